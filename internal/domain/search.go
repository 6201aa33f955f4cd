package domain

import "strings"

// DateFilter restricts a search to a trailing publication-date window.
type DateFilter string

// Supported date windows.
const (
	DateFilterNone     DateFilter = ""
	DateFilterOneYear  DateFilter = "1year"
	DateFilterFiveYear DateFilter = "5years"
	DateFilterTenYear  DateFilter = "10years"
)

// DefaultSearchMaxResults is applied when a search request leaves maxResults unset.
const DefaultSearchMaxResults = 50

// SearchRequest is a structured PubMed query.
type SearchRequest struct {
	// Query holds the search terms, already joined with AND by the caller.
	Query string `json:"query" validate:"required,max=10000"`
	// DateFilter is an optional trailing window on publication date.
	DateFilter DateFilter `json:"dateFilter,omitempty" validate:"omitempty,oneof=1year 5years 10years"`
	// ArticleType is an optional publication-type filter; empty means no filter.
	ArticleType string `json:"articleType,omitempty" validate:"max=200"`
	// MaxResults caps the number of ids requested from esearch.
	MaxResults int `json:"maxResults" validate:"gte=1,lte=10000"`
}

// Normalize trims the free-text fields and applies the result cap default.
func (r *SearchRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
	r.ArticleType = strings.TrimSpace(r.ArticleType)
	if r.MaxResults == 0 {
		r.MaxResults = DefaultSearchMaxResults
	}
}

// SearchResult is one article matched by a search.
type SearchResult struct {
	// PMCID is the PMC id, or "PMID<id>" when the article has no PMC id. Never empty.
	PMCID       string   `json:"pmcid"`
	DOI         string   `json:"doi,omitempty"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Journal     string   `json:"journal,omitempty"`
	Year        int      `json:"year"`
	ArticleType string   `json:"articleType"`
}
