package httpserver

import (
	"bytes"
	"html/template"
	"strconv"
	"time"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

type reportField struct {
	Label string
	Value string
}

type reportView struct {
	PMCID       string
	DOI         string
	Fields      []reportField
	GeneratedOn string
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Clinical Trial Data Report - {{.PMCID}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 900px; margin: 0 auto; padding: 20px; background: #f8f9fa; }
        .container { background: #fff; padding: 30px; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { color: #2c3e50; border-bottom: 3px solid #3498db; padding-bottom: 10px; margin-bottom: 30px; }
        .header-info { display: grid; grid-template-columns: 1fr 1fr; gap: 20px; margin-bottom: 30px; padding: 20px; background: #ecf0f1; border-radius: 6px; }
        .field-group { margin-bottom: 25px; }
        .field-label { display: block; font-weight: 600; color: #2c3e50; margin-bottom: 8px; font-size: 14px; text-transform: uppercase; letter-spacing: 0.5px; }
        .field-value { display: block; padding: 12px; background: #f8f9fa; border-left: 4px solid #3498db; border-radius: 4px; white-space: pre-line; }
        .doi { font-family: monospace; }
        .footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #dee2e6; text-align: center; color: #6c757d; font-size: 14px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Clinical Trial Data Report</h1>
        <div class="header-info">
            <div class="field-group">
                <span class="field-label">PMCID</span>
                <span class="field-value">{{.PMCID}}</span>
            </div>
            <div class="field-group">
                <span class="field-label">DOI</span>
                <span class="field-value doi">{{.DOI}}</span>
            </div>
        </div>
{{- range .Fields}}
        <div class="field-group">
            <span class="field-label">{{.Label}}</span>
            <span class="field-value">{{.Value}}</span>
        </div>
{{- end}}
        <div class="footer">Generated on {{.GeneratedOn}}</div>
    </div>
</body>
</html>
`))

// renderReport renders the standalone HTML report for a stored record.
func renderReport(article *domain.Article, now time.Time) ([]byte, error) {
	doi := article.DOI
	if doi == "" {
		doi = domain.NotSpecified
	}

	// Year follows the first author, as in the extraction schema.
	fields := []reportField{{Label: "Title", Value: article.Title}}
	for _, f := range article.NarrativeFields() {
		fields = append(fields, reportField{Label: f.Label, Value: *f.Value})
		if f.Key == "firstAuthor" {
			fields = append(fields, reportField{Label: "Year", Value: strconv.Itoa(article.Year)})
		}
	}

	view := reportView{
		PMCID:       article.PMCID,
		DOI:         doi,
		Fields:      fields,
		GeneratedOn: now.Format("January 2, 2006") + " at " + now.Format("15:04:05 MST"),
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
