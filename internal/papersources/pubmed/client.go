package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
	"github.com/helixir/clinical-trial-extractor/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// maxResponseSize bounds every E-utilities response body.
	maxResponseSize = 10 << 20

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// Title and article type used when a summary carries none.
	untitled       = "No title available"
	unknownPubType = "Unknown"
)

// E-utilities endpoint names, also used as metric labels.
const (
	endpointSearch  = "esearch"
	endpointSummary = "esummary"
	endpointLink    = "elink"
	endpointFetch   = "efetch"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits. Optional.
	APIKey string

	// Timeout is the per-attempt request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit (3 req/sec) if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxRetries bounds the retries of 429, 5xx and network failures.
	MaxRetries int

	// DefaultMaxResults applies to searches that leave maxResults unset.
	DefaultMaxResults int
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.DefaultMaxResults == 0 {
		c.DefaultMaxResults = domain.DefaultSearchMaxResults
	}
}

// Client talks to the E-utilities endpoints. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "pubmed").Logger() }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the rate-limited transport, mainly for tests.
func WithHTTPClient(h *papersources.HTTPClient) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClock sets the clock used for date windows and default years.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a new PubMed client with the given configuration.
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()

	c := &Client{
		config: cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:     cfg.Timeout,
			RateLimit:   cfg.RateLimit,
			BurstSize:   cfg.BurstSize,
			MaxRetries:  cfg.MaxRetries,
			UserAgent:   "Helixir-ClinicalTrialExtractor/1.0 (mailto:support@helixir.io)",
			APIKey:      cfg.APIKey,
			APIKeyParam: "api_key",
			OnRetry:     c.logRetry,
		})
	}
	return c
}

func (c *Client) logRetry(req *http.Request, attempt int, delay time.Duration, cause error) {
	c.logger.Warn().
		Err(cause).
		Str("endpoint", strings.TrimSuffix(path.Base(req.URL.Path), ".fcgi")).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("retrying E-utilities request")
}

// BuildSearchTerm appends the date window and publication-type clauses to the
// query. The window ends at currentYear.
func BuildSearchTerm(req domain.SearchRequest, currentYear int) string {
	term := req.Query
	switch req.DateFilter {
	case domain.DateFilterOneYear:
		term += fmt.Sprintf(" AND %d[pdat]", currentYear)
	case domain.DateFilterFiveYear:
		term += fmt.Sprintf(" AND %d:%d[pdat]", currentYear-5, currentYear)
	case domain.DateFilterTenYear:
		term += fmt.Sprintf(" AND %d:%d[pdat]", currentYear-10, currentYear)
	}
	if req.ArticleType != "" {
		term += " AND " + req.ArticleType + "[pt]"
	}
	return term
}

// Search runs esearch for the request and maps the esummary record of every
// returned id, in esearch order. Ids without a summary are skipped.
func (c *Client) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.DefaultMaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	currentYear := c.now().Year()
	term := BuildSearchTerm(req, currentYear)

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("retmode", "json")

	var search ESearchResponse
	if err := c.getJSON(ctx, endpointSearch, q, &search); err != nil {
		c.metrics.RecordSearchFailed()
		return nil, fmt.Errorf("esearch failed: %w", err)
	}
	if search.Result.ERROR != "" {
		c.metrics.RecordSearchFailed()
		return nil, domain.NewExternalAPIError(sourceName, 0, search.Result.ERROR, nil)
	}

	ids := search.Result.IDList
	c.logger.Debug().Str("term", term).Int("ids", len(ids)).Msg("esearch completed")
	if len(ids) == 0 {
		c.metrics.RecordSearchCompleted(0)
		return []domain.SearchResult{}, nil
	}

	q = url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "json")

	var summary ESummaryResponse
	if err := c.getJSON(ctx, endpointSummary, q, &summary); err != nil {
		c.metrics.RecordSearchFailed()
		return nil, fmt.Errorf("esummary failed: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(ids))
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc DocumentSummary
		if err := json.Unmarshal(raw, &doc); err != nil {
			c.logger.Warn().Err(err).Str("pmid", id).Msg("skipping unreadable summary")
			continue
		}
		results = append(results, summaryToResult(id, doc, currentYear))
	}

	c.metrics.RecordSearchCompleted(len(results))
	return results, nil
}

// summaryToResult maps an esummary record. The PMC id falls back to "PMID<id>",
// the year to currentYear, the title and article type to fixed placeholders.
func summaryToResult(pmid string, doc DocumentSummary, currentYear int) domain.SearchResult {
	pmcid := doc.articleID("pmc")
	if pmcid == "" {
		pmcid = "PMID" + pmid
	}

	title := doc.Title
	if title == "" {
		title = untitled
	}

	authors := make([]string, 0, len(doc.Authors))
	for _, a := range doc.Authors {
		authors = append(authors, a.Name)
	}

	year := leadingInt(strings.SplitN(doc.PubDate, " ", 2)[0])
	if year <= 0 {
		year = currentYear
	}

	articleType := unknownPubType
	if len(doc.PubType) > 0 && doc.PubType[0] != "" {
		articleType = doc.PubType[0]
	}

	return domain.SearchResult{
		PMCID:       pmcid,
		DOI:         doc.articleID("doi"),
		Title:       title,
		Authors:     authors,
		Journal:     doc.FullJournalName,
		Year:        year,
		ArticleType: articleType,
	}
}

// leadingInt parses the leading decimal digits of s, or returns 0.
func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// ResolvePMID maps an external id to a PubMed id. "PMC<n>" ids are resolved
// through elink, falling back to the input when PubMed links nothing;
// "PMID<n>" ids are stripped of the prefix; anything else is returned as-is.
func (c *Client) ResolvePMID(ctx context.Context, externalID string) (string, error) {
	switch {
	case strings.HasPrefix(externalID, "PMC"):
		q := url.Values{}
		q.Set("dbfrom", "pmc")
		q.Set("db", "pubmed")
		q.Set("id", strings.TrimPrefix(externalID, "PMC"))
		q.Set("retmode", "json")

		var link ELinkResponse
		if err := c.getJSON(ctx, endpointLink, q, &link); err != nil {
			return "", fmt.Errorf("elink failed: %w", err)
		}
		if len(link.LinkSets) > 0 && len(link.LinkSets[0].LinkSetDBs) > 0 &&
			len(link.LinkSets[0].LinkSetDBs[0].Links) > 0 {
			return string(link.LinkSets[0].LinkSetDBs[0].Links[0]), nil
		}
		return externalID, nil
	case strings.HasPrefix(externalID, "PMID"):
		return strings.TrimPrefix(externalID, "PMID"), nil
	default:
		return externalID, nil
	}
}

// FetchXML returns the efetch XML document for a PubMed id.
func (c *Client) FetchXML(ctx context.Context, pmid string) ([]byte, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", pmid)
	q.Set("retmode", "xml")

	body, err := c.get(ctx, endpointFetch, q)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}
	return body, nil
}

// FetchAbstract resolves externalID, fetches its record and assembles the
// abstract record. Missing fields are empty, never an error.
func (c *Client) FetchAbstract(ctx context.Context, externalID string) (*domain.AbstractRecord, error) {
	pmid, doc, err := c.fetch(ctx, externalID)
	if err != nil {
		return nil, err
	}

	record := NewAbstractRecord(externalID, pmid, ExtractFields(doc))
	logger := observability.WithArticleContext(c.logger, externalID, pmid)
	logger.Debug().
		Int("title_length", len(record.Title)).
		Int("abstract_length", len(record.AbstractText)).
		Bool("has_doi", record.DOI != "").
		Str("publication_date", record.PublicationDate).
		Msg("abstract extracted")
	return &record, nil
}

// FetchArticle resolves externalID and returns its parsed detail together
// with the raw XML.
func (c *Client) FetchArticle(ctx context.Context, externalID string) (*domain.ArticleDetail, error) {
	pmid, doc, err := c.fetch(ctx, externalID)
	if err != nil {
		return nil, err
	}

	detail := NewArticleDetail(externalID, pmid, ExtractFields(doc), doc, c.now().Year())
	logger := observability.WithArticleContext(c.logger, externalID, pmid)
	logger.Debug().
		Int("xml_length", len(doc)).
		Msg("article fetched")
	return &detail, nil
}

func (c *Client) fetch(ctx context.Context, externalID string) (string, []byte, error) {
	pmid, err := c.ResolvePMID(ctx, externalID)
	if err != nil {
		return "", nil, err
	}
	doc, err := c.FetchXML(ctx, pmid)
	if err != nil {
		return "", nil, err
	}
	return pmid, doc, nil
}

// getJSON performs a GET against an endpoint and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out interface{}) error {
	body, err := c.get(ctx, endpoint, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.RecordPubMedRequestFailed(endpoint, "decode")
		return domain.NewParseError(sourceName, "invalid "+endpoint+" response", err)
	}
	return nil
}

// get performs a GET against an endpoint and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	u := c.config.BaseURL + "/" + endpoint + ".fcgi?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var statusErr *papersources.StatusError
		if errors.As(err, &statusErr) {
			c.metrics.RecordPubMedRequestFailed(endpoint, "http_"+strconv.Itoa(statusErr.StatusCode))
			return nil, domain.NewExternalAPIError(sourceName, statusErr.StatusCode, http.StatusText(statusErr.StatusCode), err)
		}
		c.metrics.RecordPubMedRequestFailed(endpoint, errorType(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RecordPubMedRequestFailed(endpoint, "network")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordPubMedRequestFailed(endpoint, "http_"+strconv.Itoa(resp.StatusCode))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, msg, nil)
	}

	c.metrics.RecordPubMedRequest(endpoint, time.Since(start).Seconds())
	return body, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network"
}
