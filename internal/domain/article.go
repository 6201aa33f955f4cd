// Package domain defines the records, errors and events of the clinical-trial extraction service.
package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

// Sentinel values written into narrative fields that could not be determined.
const (
	// NotSpecified marks a field the model could not determine from a usable abstract.
	NotSpecified = "Not specified"

	// NotAvailableInsufficient marks identity fields when the abstract is unusable.
	NotAvailableInsufficient = "Not available - insufficient article content"

	// CannotDetermineNoAbstract marks narrative fields when the abstract is unusable.
	CannotDetermineNoAbstract = "Cannot determine - no abstract"

	// TitleNotAvailable replaces an empty title on the insufficient-content path.
	TitleNotAvailable = "Title not available"

	// InsufficientContentNote explains why no extraction was attempted.
	InsufficientContentNote = "Article content not available for analysis. This may be due to: " +
		"1) Very recent publication, 2) Limited PubMed access, 3) Publication type restrictions. " +
		"Try a different article or check the original source."
)

// Article is a structured clinical-trial record keyed by its external id (PMCID).
//
// After extraction every narrative field holds either model output or one of the
// sentinel values above; an empty narrative field only appears on records saved
// directly through the API.
type Article struct {
	ID                int64           `json:"id"`
	PMCID             string          `json:"pmcid" validate:"required,max=64"`
	DOI               string          `json:"doi,omitempty" validate:"max=255"`
	Title             string          `json:"title" validate:"required"`
	FirstAuthor       string          `json:"firstAuthor"`
	Year              int             `json:"year" validate:"gte=0,lte=9999"`
	Reference         string          `json:"reference"`
	ReportType        string          `json:"reportType"`
	DiseaseSite       string          `json:"diseaseSite"`
	Histopathology    string          `json:"histopathology"`
	TNMStage          string          `json:"tnmStage"`
	OverallStage      string          `json:"overallStage"`
	DateRange         string          `json:"dateRange"`
	TrialArms         string          `json:"trialArms"`
	PatientNumbers    string          `json:"patientNumbers"`
	MedianFollowUp    string          `json:"medianFollowUp"`
	PrimaryOutcome    string          `json:"primaryOutcome"`
	SecondaryOutcomes string          `json:"secondaryOutcomes"`
	Statistics        string          `json:"statistics"`
	AdditionalNotes   string          `json:"additionalNotes"`
	RawData           json.RawMessage `json:"rawData,omitempty"`
	Processed         bool            `json:"processed"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// NarrativeField addresses one narrative field of an Article.
type NarrativeField struct {
	// Key is the JSON key, also used as the model response key.
	Key string
	// Label is the human-readable name used in reports.
	Label string
	// Value points into the owning Article.
	Value *string
}

// NarrativeFields returns the narrative fields of a in schema order.
func (a *Article) NarrativeFields() []NarrativeField {
	return []NarrativeField{
		{Key: "firstAuthor", Label: "First Author", Value: &a.FirstAuthor},
		{Key: "reference", Label: "Reference", Value: &a.Reference},
		{Key: "reportType", Label: "Report Type", Value: &a.ReportType},
		{Key: "diseaseSite", Label: "Disease Site", Value: &a.DiseaseSite},
		{Key: "histopathology", Label: "Histopathology", Value: &a.Histopathology},
		{Key: "tnmStage", Label: "TNM Stage", Value: &a.TNMStage},
		{Key: "overallStage", Label: "Overall Stage", Value: &a.OverallStage},
		{Key: "dateRange", Label: "Date Range", Value: &a.DateRange},
		{Key: "trialArms", Label: "Trial Arms", Value: &a.TrialArms},
		{Key: "patientNumbers", Label: "Patient Numbers", Value: &a.PatientNumbers},
		{Key: "medianFollowUp", Label: "Median Follow-up Duration", Value: &a.MedianFollowUp},
		{Key: "primaryOutcome", Label: "Primary Outcome", Value: &a.PrimaryOutcome},
		{Key: "secondaryOutcomes", Label: "Secondary Outcomes", Value: &a.SecondaryOutcomes},
		{Key: "statistics", Label: "Statistics", Value: &a.Statistics},
		{Key: "additionalNotes", Label: "Additional Notes", Value: &a.AdditionalNotes},
	}
}

// FillMissing replaces every empty narrative field with sentinel.
func (a *Article) FillMissing(sentinel string) {
	for _, f := range a.NarrativeFields() {
		if *f.Value == "" {
			*f.Value = sentinel
		}
	}
}

// CopyContentFrom overwrites every caller-supplied field of a with the values
// from src. Store-managed fields (ID, CreatedAt, UpdatedAt) are left untouched.
func (a *Article) CopyContentFrom(src *Article) {
	id, created, updated := a.ID, a.CreatedAt, a.UpdatedAt
	*a = *src
	a.ID, a.CreatedAt, a.UpdatedAt = id, created, updated
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeFilename replaces every non-alphanumeric character with an underscore.
func SanitizeFilename(s string) string {
	return nonAlphanumeric.ReplaceAllString(s, "_")
}

// ExportFilename returns the attachment name for a JSON export: the DOI when
// present, else the PMCID, sanitized and suffixed with ".json".
func (a *Article) ExportFilename() string {
	base := a.PMCID
	if a.DOI != "" {
		base = a.DOI
	}
	return SanitizeFilename(base) + ".json"
}

// ReportFilename returns the attachment name for an HTML report.
func (a *Article) ReportFilename() string {
	return "clinical-trial-report-" + SanitizeFilename(a.PMCID) + ".html"
}
