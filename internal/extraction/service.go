// Package extraction turns a PubMed title and abstract into a structured
// clinical-trial record with a language model.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/llm"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
)

// operation labels LLM metrics recorded by this package.
const operation = "clinical_trial_extraction"

// maxYear bounds years accepted from the model.
const maxYear = 9999

// Input is the article content handed to Extract.
type Input struct {
	Title        string `json:"title"`
	AbstractText string `json:"abstractText"`
	PMCID        string `json:"pmcid"`
	DOI          string `json:"doi"`
}

// Service extracts clinical-trial records. It is safe for concurrent use.
type Service struct {
	completer llm.Completer
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger.With().Str("component", "extraction").Logger() }
}

// WithMetrics records LLM usage and extraction outcomes. A nil value disables metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the clock used for default years.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an extraction service backed by completer.
func NewService(completer llm.Completer, opts ...Option) *Service {
	s := &Service{
		completer: completer,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the model identifier used for extraction.
func (s *Service) Model() string {
	return s.completer.Model()
}

// Extract produces a clinical-trial record for the article.
//
// An empty title or an abstract shorter than domain.MinSubstantialAbstractLength
// short-circuits to a placeholder record without calling the model. Otherwise
// the model is called once; a response that is not a JSON object is a
// *domain.ParseError. Every narrative field of the returned record is populated.
//
// The caller's PMCID and DOI are kept even when the model echoes different
// values; the model's pmcid is used only when in.PMCID is empty.
func (s *Service) Extract(ctx context.Context, in Input) (*domain.Article, error) {
	logger := observability.WithArticleContext(observability.WithRequestContext(ctx, s.logger), in.PMCID, "")

	if strings.TrimSpace(in.Title) == "" || !domain.IsSubstantial(in.AbstractText) {
		logger.Info().
			Int("abstract_length", len([]rune(in.AbstractText))).
			Bool("has_title", in.Title != "").
			Msg("insufficient article content, skipping model call")
		s.metrics.RecordExtraction(observability.ExtractionOutcomeInsufficient)
		return s.insufficient(in), nil
	}

	system, user := llm.BuildClinicalTrialPrompt(llm.PromptInput{
		Title:    in.Title,
		Abstract: in.AbstractText,
		PMCID:    in.PMCID,
	})

	start := time.Now()
	resp, err := s.completer.Complete(ctx, llm.Request{
		SystemPrompt: system,
		UserPrompt:   user,
		JSONMode:     true,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		failed := observability.WithProviderContext(logger, s.completer.Provider(), s.completer.Model())
		failed.Error().Err(err).Float64("duration", duration).Msg("clinical trial extraction failed")
		s.metrics.RecordLLMRequestFailed(operation, s.completer.Model(), llm.ErrorType(err))
		s.metrics.RecordExtraction(observability.ExtractionOutcomeFailed)
		return nil, fmt.Errorf("clinical trial extraction failed: %w", err)
	}

	s.metrics.RecordLLMRequest(operation, resp.Model, duration, resp.InputTokens, resp.OutputTokens)

	article, err := s.fromResponse(in, resp.Content)
	if err != nil {
		logger.Error().Err(err).Int("content_length", len(resp.Content)).Msg("unreadable model response")
		s.metrics.RecordLLMRequestFailed(operation, resp.Model, "parse")
		s.metrics.RecordExtraction(observability.ExtractionOutcomeFailed)
		return nil, err
	}

	logger.Info().
		Str("model", resp.Model).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Float64("duration", duration).
		Msg("clinical trial data extracted")
	s.metrics.RecordExtraction(observability.ExtractionOutcomeCompleted)
	return article, nil
}

// insufficient builds the placeholder record returned without a model call.
func (s *Service) insufficient(in Input) *domain.Article {
	title := in.Title
	if strings.TrimSpace(title) == "" {
		title = domain.TitleNotAvailable
	}

	a := &domain.Article{
		PMCID:           in.PMCID,
		DOI:             in.DOI,
		Title:           title,
		Year:            s.now().Year(),
		FirstAuthor:     domain.NotAvailableInsufficient,
		Reference:       domain.NotAvailableInsufficient,
		AdditionalNotes: domain.InsufficientContentNote,
	}
	a.FillMissing(domain.CannotDetermineNoAbstract)
	return a
}

// fromResponse maps the model's JSON object onto a record.
func (s *Service) fromResponse(in Input, content string) (*domain.Article, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.NewParseError(s.completer.Provider(), "empty model response", nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, domain.NewParseError(s.completer.Provider(), "model response is not a JSON object", err)
	}
	if fields == nil {
		return nil, domain.NewParseError(s.completer.Provider(), "model response is not a JSON object", nil)
	}

	a := &domain.Article{
		PMCID:     in.PMCID,
		DOI:       in.DOI,
		Processed: true,
	}
	if a.PMCID == "" {
		a.PMCID = textValue(fields["pmcid"])
	}

	a.Title = textValue(fields["title"])
	if a.Title == "" {
		a.Title = in.Title
	}

	a.Year = yearValue(fields["year"])
	if a.Year <= 0 {
		a.Year = s.now().Year()
	}

	for _, f := range a.NarrativeFields() {
		*f.Value = textValue(fields[f.Key])
	}
	a.FillMissing(domain.NotSpecified)

	var raw bytes.Buffer
	if err := json.Compact(&raw, []byte(content)); err == nil {
		a.RawData = raw.Bytes()
	}
	return a, nil
}

// textValue renders a JSON value as text: strings verbatim, null as empty,
// anything else as its JSON encoding.
func textValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}

// yearValue accepts a JSON number or a numeric string; anything else is 0.
func yearValue(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		raw = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f <= 0 || f > maxYear {
		return 0
	}
	return int(f)
}
