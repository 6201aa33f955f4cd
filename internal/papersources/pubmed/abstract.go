package pubmed

import (
	"strconv"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// NewAbstractRecord assembles the abstract record for requestedID from parsed
// fields. pmid is the id the document was fetched with; the document's own
// PMID is used when it is empty.
func NewAbstractRecord(requestedID, pmid string, f Fields) domain.AbstractRecord {
	if pmid == "" {
		pmid = f.PMID
	}
	return domain.AbstractRecord{
		PMCID:           requestedID,
		PMID:            pmid,
		Title:           f.Title,
		DOI:             f.DOI,
		PublicationDate: f.PublicationDate,
		AbstractText:    f.Abstract,
	}
}

// NewArticleDetail assembles the article view for requestedID. defaultYear is
// used when the document carries no parseable year.
func NewArticleDetail(requestedID, pmid string, f Fields, rawXML []byte, defaultYear int) domain.ArticleDetail {
	if pmid == "" {
		pmid = f.PMID
	}
	year, err := strconv.Atoi(f.Year)
	if err != nil || year <= 0 {
		year = defaultYear
	}
	authors := f.Authors
	if authors == nil {
		authors = []string{}
	}
	return domain.ArticleDetail{
		PMCID:            requestedID,
		PMID:             pmid,
		DOI:              f.DOI,
		Title:            f.Title,
		Abstract:         f.Abstract,
		Year:             year,
		Journal:          f.Journal,
		Authors:          authors,
		PublicationTypes: f.PublicationTypes,
		RawXML:           string(rawXML),
	}
}
