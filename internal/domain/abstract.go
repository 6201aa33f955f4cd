package domain

import (
	"encoding/json"
	"unicode/utf8"
)

// MinSubstantialAbstractLength is the minimum abstract length, in characters,
// below which an abstract is treated as insufficient for extraction.
const MinSubstantialAbstractLength = 50

// IsSubstantial reports whether text reaches MinSubstantialAbstractLength characters.
func IsSubstantial(text string) bool {
	return utf8.RuneCountInString(text) >= MinSubstantialAbstractLength
}

// AbstractRecord is the normalized view of a single PubMed article fetch.
// Raw values feed the extraction service; the labeled lines mirror the
// MEDLINE display format (PMID, DP, TI, LID, AB).
type AbstractRecord struct {
	// PMCID is the external id the record was requested with.
	PMCID string
	// PMID is the resolved PubMed id.
	PMID string
	// Title is the normalized article title.
	Title string
	// DOI is empty when the article has none.
	DOI string
	// PublicationDate is "YYYY", "YYYY/Month", "YYYY/Month/Day" or empty.
	PublicationDate string
	// AbstractText is the normalized abstract prose, possibly empty.
	AbstractText string
}

// PMIDLine returns the "PMID: <id>" display line.
func (r AbstractRecord) PMIDLine() string { return "PMID: " + r.PMID }

// DPLine returns the "DP: <date>" display line.
func (r AbstractRecord) DPLine() string { return "DP: " + r.PublicationDate }

// TILine returns the "TI: <title>" display line.
func (r AbstractRecord) TILine() string { return "TI: " + r.Title }

// ABLine returns the "AB: <abstract>" display line.
func (r AbstractRecord) ABLine() string { return "AB: " + r.AbstractText }

// LIDLine returns "LID: <doi> [doi]", or "LID: <pmid> [pmid]" when no DOI is known.
func (r AbstractRecord) LIDLine() string {
	if r.DOI != "" {
		return "LID: " + r.DOI + " [doi]"
	}
	return "LID: " + r.PMID + " [pmid]"
}

// Insufficient reports whether the abstract is too short to extract from.
func (r AbstractRecord) Insufficient() bool {
	return !IsSubstantial(r.AbstractText)
}

type abstractRecordJSON struct {
	PMID            string `json:"pmid"`
	DP              string `json:"dp"`
	TI              string `json:"ti"`
	LID             string `json:"lid"`
	AB              string `json:"ab"`
	FullAbstract    string `json:"fullAbstract"`
	Title           string `json:"title"`
	DOI             string `json:"doi"`
	PMCID           string `json:"pmcid"`
	PublicationDate string `json:"publicationDate"`
}

// MarshalJSON renders the labeled lines next to the raw values.
func (r AbstractRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(abstractRecordJSON{
		PMID:            r.PMIDLine(),
		DP:              r.DPLine(),
		TI:              r.TILine(),
		LID:             r.LIDLine(),
		AB:              r.ABLine(),
		FullAbstract:    r.AbstractText,
		Title:           r.Title,
		DOI:             r.DOI,
		PMCID:           r.PMCID,
		PublicationDate: r.PublicationDate,
	})
}

// ArticleDetail is the freshly parsed, not yet persisted, view of an article.
type ArticleDetail struct {
	PMCID            string   `json:"pmcid"`
	PMID             string   `json:"pmid"`
	DOI              string   `json:"doi,omitempty"`
	Title            string   `json:"title"`
	Abstract         string   `json:"abstract"`
	Year             int      `json:"year"`
	Journal          string   `json:"journal"`
	Authors          []string `json:"authors"`
	PublicationTypes []string `json:"publicationTypes,omitempty"`
	RawXML           string   `json:"rawXml"`
}
