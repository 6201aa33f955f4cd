// Package pubmed provides a client for the NCBI PubMed E-utilities API and
// the normalization and field extraction applied to its responses.
//
// Searches go through esearch and esummary (JSON). PMC ids are resolved to
// PMIDs through elink, and full records are read from efetch (XML).
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import (
	"bytes"
	"encoding/json"
)

// ESearchResponse is the JSON envelope of esearch.fcgi.
type ESearchResponse struct {
	Result ESearchResult `json:"esearchresult"`
}

// ESearchResult holds the ids matching a query, in relevance order.
type ESearchResult struct {
	Count     string     `json:"count"`
	RetMax    string     `json:"retmax"`
	IDList    []string   `json:"idlist"`
	ErrorList *ErrorList `json:"errorlist,omitempty"`
	// ERROR is set by NCBI for malformed queries.
	ERROR string `json:"ERROR,omitempty"`
}

// ErrorList contains non-fatal query errors from the E-utilities API.
type ErrorList struct {
	PhrasesNotFound []string `json:"phrasesnotfound,omitempty"`
	FieldsNotFound  []string `json:"fieldsnotfound,omitempty"`
}

// ESummaryResponse is the JSON envelope of esummary.fcgi. Result maps each
// uid to its raw summary, plus the "uids" key listing them.
type ESummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// DocumentSummary is one esummary record.
type DocumentSummary struct {
	UID             string        `json:"uid"`
	PubDate         string        `json:"pubdate"`
	Title           string        `json:"title"`
	Authors         []SummaryName `json:"authors"`
	FullJournalName string        `json:"fulljournalname"`
	PubType         []string      `json:"pubtype"`
	ArticleIDs      []SummaryID   `json:"articleids"`
}

// SummaryName is an author entry of an esummary record.
type SummaryName struct {
	Name     string `json:"name"`
	AuthType string `json:"authtype"`
}

// SummaryID is a typed identifier (pubmed, pmc, doi, ...) of an esummary record.
type SummaryID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}

// articleID returns the value of the first identifier of the given type.
func (s DocumentSummary) articleID(idType string) string {
	for _, id := range s.ArticleIDs {
		if id.IDType == idType {
			return id.Value
		}
	}
	return ""
}

// ELinkResponse is the JSON envelope of elink.fcgi.
type ELinkResponse struct {
	LinkSets []LinkSet `json:"linksets"`
}

// LinkSet is one source id and the ids it links to per target database.
type LinkSet struct {
	DBFrom     string      `json:"dbfrom"`
	LinkSetDBs []LinkSetDB `json:"linksetdbs"`
}

// LinkSetDB lists linked ids in a target database.
type LinkSetDB struct {
	DBTo     string       `json:"dbto"`
	LinkName string       `json:"linkname"`
	Links    []flexString `json:"links"`
}

// flexString accepts both JSON strings and numbers; NCBI has emitted ids as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
