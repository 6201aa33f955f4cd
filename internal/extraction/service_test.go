package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/llm"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
)

// fakeCompleter returns a canned response and records every request.
type fakeCompleter struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content, Model: "gpt-4o", InputTokens: 900, OutputTokens: 300}, nil
}

func (f *fakeCompleter) Provider() string { return "openai" }
func (f *fakeCompleter) Model() string    { return "gpt-4o" }

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func fixedNow() time.Time {
	return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
}

const substantialAbstract = "We randomized 120 patients with FIGO IIB-IVA cervical cancer to weekly cisplatin " +
	"or tri-weekly cisplatin concurrent with pelvic radiotherapy. Overall survival HR 0·71."

func newTestService(completer *fakeCompleter, opts ...Option) *Service {
	return NewService(completer, append([]Option{WithClock(fixedNow)}, opts...)...)
}

func TestService_Extract_Insufficient(t *testing.T) {
	tests := []struct {
		name          string
		input         Input
		expectedTitle string
	}{
		{
			name:          "short abstract",
			input:         Input{Title: "Weekly cisplatin", AbstractText: "Too short.", PMCID: "PMC1", DOI: "10.1/x"},
			expectedTitle: "Weekly cisplatin",
		},
		{
			name:          "empty abstract",
			input:         Input{Title: "Weekly cisplatin", PMCID: "PMC1"},
			expectedTitle: "Weekly cisplatin",
		},
		{
			name:          "empty title",
			input:         Input{AbstractText: substantialAbstract, PMCID: "PMC1"},
			expectedTitle: domain.TitleNotAvailable,
		},
		{
			name:          "49 characters",
			input:         Input{Title: "T", AbstractText: strings.Repeat("a", 49), PMCID: "PMC1"},
			expectedTitle: "T",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{content: `{}`}
			svc := newTestService(completer)

			article, err := svc.Extract(context.Background(), tt.input)
			require.NoError(t, err)

			assert.Equal(t, 0, completer.calls())
			assert.Equal(t, tt.input.PMCID, article.PMCID)
			assert.Equal(t, tt.input.DOI, article.DOI)
			assert.Equal(t, tt.expectedTitle, article.Title)
			assert.Equal(t, 2025, article.Year)
			assert.Equal(t, domain.NotAvailableInsufficient, article.FirstAuthor)
			assert.Equal(t, domain.NotAvailableInsufficient, article.Reference)
			assert.Equal(t, domain.InsufficientContentNote, article.AdditionalNotes)
			assert.Equal(t, domain.CannotDetermineNoAbstract, article.DiseaseSite)
			assert.Equal(t, domain.CannotDetermineNoAbstract, article.Statistics)
			assert.False(t, article.Processed)

			for _, f := range article.NarrativeFields() {
				assert.NotEmpty(t, *f.Value, f.Key)
			}
		})
	}
}

func TestService_Extract_BoundaryCallsModel(t *testing.T) {
	completer := &fakeCompleter{content: `{"firstAuthor": "Smith J"}`}
	svc := newTestService(completer)

	_, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: strings.Repeat("é", 50), PMCID: "PMC1"})
	require.NoError(t, err)
	assert.Equal(t, 1, completer.calls())
}

func TestService_Extract_PartialResponse(t *testing.T) {
	completer := &fakeCompleter{content: `{
		"pmcid": "PMC999",
		"title": "Weekly versus tri-weekly cisplatin",
		"firstAuthor": "Smith J",
		"year": 2020,
		"diseaseSite": "Cervical cancer",
		"trialArms": "Arm1 = weekly cisplatin\nArm2 = tri-weekly cisplatin",
		"statistics": "",
		"histopathology": null
	}`}
	svc := newTestService(completer)

	article, err := svc.Extract(context.Background(), Input{
		Title:        "Weekly cisplatin",
		AbstractText: substantialAbstract,
		PMCID:        "PMC123456",
		DOI:          "10.1200/JCO.19.01234",
	})
	require.NoError(t, err)

	assert.Equal(t, "PMC123456", article.PMCID)
	assert.Equal(t, "10.1200/JCO.19.01234", article.DOI)
	assert.Equal(t, "Weekly versus tri-weekly cisplatin", article.Title)
	assert.Equal(t, 2020, article.Year)
	assert.Equal(t, "Smith J", article.FirstAuthor)
	assert.Equal(t, "Cervical cancer", article.DiseaseSite)
	assert.Equal(t, "Arm1 = weekly cisplatin\nArm2 = tri-weekly cisplatin", article.TrialArms)
	assert.Equal(t, domain.NotSpecified, article.Statistics)
	assert.Equal(t, domain.NotSpecified, article.Histopathology)
	assert.Equal(t, domain.NotSpecified, article.MedianFollowUp)
	assert.Equal(t, domain.NotSpecified, article.PatientNumbers)
	assert.True(t, article.Processed)

	for _, f := range article.NarrativeFields() {
		assert.NotEmpty(t, *f.Value, f.Key)
	}

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(article.RawData, &raw))
	assert.Equal(t, "Smith J", raw["firstAuthor"])

	require.Equal(t, 1, completer.calls())
	req := completer.requests[0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, llm.ClinicalTrialSystemPrompt, req.SystemPrompt)
	assert.Contains(t, req.UserPrompt, "Article Title: Weekly cisplatin")
	assert.Contains(t, req.UserPrompt, "Abstract: "+substantialAbstract)
	assert.Contains(t, req.UserPrompt, `"pmcid": "PMC123456"`)
}

func TestService_Extract_IdentityFallbacks(t *testing.T) {
	t.Run("model pmcid used when caller sent none", func(t *testing.T) {
		svc := newTestService(&fakeCompleter{content: `{"pmcid": "PMC777"}`})

		article, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract})
		require.NoError(t, err)
		assert.Equal(t, "PMC777", article.PMCID)
	})

	t.Run("caller pmcid beats model pmcid", func(t *testing.T) {
		svc := newTestService(&fakeCompleter{content: `{"pmcid": "PMC777"}`})

		article, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract, PMCID: "PMC1"})
		require.NoError(t, err)
		assert.Equal(t, "PMC1", article.PMCID)
	})

	t.Run("caller title and current year when model omits them", func(t *testing.T) {
		svc := newTestService(&fakeCompleter{content: `{"title": "", "year": "n/a"}`})

		article, err := svc.Extract(context.Background(), Input{Title: "Caller title", AbstractText: substantialAbstract, PMCID: "PMC1"})
		require.NoError(t, err)
		assert.Equal(t, "Caller title", article.Title)
		assert.Equal(t, 2025, article.Year)
	})
}

func TestService_Extract_Year(t *testing.T) {
	tests := []struct {
		raw      string
		expected int
	}{
		{raw: `2019`, expected: 2019},
		{raw: `"2018"`, expected: 2018},
		{raw: `" 2017 "`, expected: 2017},
		{raw: `2016.0`, expected: 2016},
		{raw: `null`, expected: 2025},
		{raw: `0`, expected: 2025},
		{raw: `"circa 2015"`, expected: 2025},
		{raw: `123456`, expected: 2025},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			svc := newTestService(&fakeCompleter{content: fmt.Sprintf(`{"year": %s}`, tt.raw)})

			article, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract, PMCID: "PMC1"})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, article.Year)
		})
	}
}

func TestService_Extract_NonStringFields(t *testing.T) {
	svc := newTestService(&fakeCompleter{content: `{"patientNumbers": 120, "secondaryOutcomes": ["PFS", "toxicity"]}`})

	article, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract, PMCID: "PMC1"})
	require.NoError(t, err)
	assert.Equal(t, "120", article.PatientNumbers)
	assert.Equal(t, `["PFS", "toxicity"]`, article.SecondaryOutcomes)
}

func TestService_Extract_ParseErrors(t *testing.T) {
	for _, content := range []string{"", "   ", "not json", `["a"]`, `"text"`, `null`, `{"title": "unterminated`} {
		t.Run(content, func(t *testing.T) {
			svc := newTestService(&fakeCompleter{content: content})

			article, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract, PMCID: "PMC1"})
			require.Error(t, err)
			assert.Nil(t, article)
			assert.True(t, errors.Is(err, domain.ErrParse))

			var parseErr *domain.ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, "openai", parseErr.Source)
		})
	}
}

func TestService_Extract_CompleterError(t *testing.T) {
	apiErr := &llm.APIError{Provider: "openai", StatusCode: 401, Message: "Incorrect API key provided", Type: "invalid_request_error"}
	completer := &fakeCompleter{err: apiErr}
	metrics := observability.NewMetrics("extraction_test_completer_error")
	svc := newTestService(completer, WithMetrics(metrics))

	_, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract, PMCID: "PMC1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Contains(t, err.Error(), "Incorrect API key provided")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LLMRequestsFailed.WithLabelValues(operation, "gpt-4o", "invalid_request_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExtractionsTotal.WithLabelValues(observability.ExtractionOutcomeFailed)))
}

func TestService_Extract_Metrics(t *testing.T) {
	metrics := observability.NewMetrics("extraction_test_metrics")
	svc := newTestService(&fakeCompleter{content: `{"firstAuthor": "Smith J"}`}, WithMetrics(metrics))

	_, err := svc.Extract(context.Background(), Input{Title: "T", AbstractText: substantialAbstract, PMCID: "PMC1"})
	require.NoError(t, err)
	_, err = svc.Extract(context.Background(), Input{Title: "T", AbstractText: "short", PMCID: "PMC2"})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues(operation, "gpt-4o")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExtractionsTotal.WithLabelValues(observability.ExtractionOutcomeCompleted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ExtractionsTotal.WithLabelValues(observability.ExtractionOutcomeInsufficient)))
}

func TestService_Model(t *testing.T) {
	assert.Equal(t, "gpt-4o", NewService(&fakeCompleter{}).Model())
}
