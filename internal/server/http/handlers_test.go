package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/extraction"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
	"github.com/helixir/clinical-trial-extractor/internal/outbox"
	"github.com/helixir/clinical-trial-extractor/internal/repository"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePubMed struct {
	mu         sync.Mutex
	searchFn   func(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)
	abstractFn func(ctx context.Context, id string) (*domain.AbstractRecord, error)
	articleFn  func(ctx context.Context, id string) (*domain.ArticleDetail, error)
	searches   []domain.SearchRequest
	fetches    []string
}

func (f *fakePubMed) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(ctx, req)
	}
	return nil, nil
}

func (f *fakePubMed) FetchAbstract(ctx context.Context, id string) (*domain.AbstractRecord, error) {
	if f.abstractFn != nil {
		return f.abstractFn(ctx, id)
	}
	return nil, errors.New("not configured")
}

func (f *fakePubMed) FetchArticle(ctx context.Context, id string) (*domain.ArticleDetail, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, id)
	f.mu.Unlock()
	if f.articleFn != nil {
		return f.articleFn(ctx, id)
	}
	return nil, errors.New("not configured")
}

type fakeExtractor struct {
	mu     sync.Mutex
	result func(in extraction.Input) (*domain.Article, error)
	inputs []extraction.Input
}

func (f *fakeExtractor) Extract(_ context.Context, in extraction.Input) (*domain.Article, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	return f.result(in)
}

func (f *fakeExtractor) Model() string { return "gpt-4o" }

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...*domain.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func fixedNow() time.Time {
	return time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)
}

func newTestServer(pm PubMedClient, ex Extractor, repo repository.ArticleRepository, opts ...Option) *Server {
	if pm == nil {
		pm = &fakePubMed{}
	}
	if ex == nil {
		ex = &fakeExtractor{result: func(extraction.Input) (*domain.Article, error) { return nil, errors.New("unused") }}
	}
	if repo == nil {
		repo = repository.NewMemoryArticleRepository()
	}
	return NewServer(Config{Address: ":0"}, pm, ex, repo,
		append([]Option{WithLogger(zerolog.Nop()), WithClock(fixedNow)}, opts...)...)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func testArticle(pmcid string) *domain.Article {
	return &domain.Article{
		PMCID:          pmcid,
		DOI:            "10.1200/JCO.19.01234",
		Title:          "Weekly versus tri-weekly cisplatin in cervical cancer",
		FirstAuthor:    "Smith J",
		Year:           2020,
		DiseaseSite:    "Cervical cancer",
		TrialArms:      "Arm A: weekly cisplatin\nArm B: tri-weekly cisplatin",
		PatientNumbers: "120",
		Processed:      true,
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthHandler(t *testing.T) {
	rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := newTestServer(nil, nil, nil, WithReadinessCheck(func(context.Context) error { return nil }))
		rr := doRequest(t, s, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"ready"`)
	})

	t.Run("store unavailable", func(t *testing.T) {
		s := newTestServer(nil, nil, nil, WithReadinessCheck(func(context.Context) error {
			return errors.New("connection refused")
		}))
		rr := doRequest(t, s, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "connection refused")
	})
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchArticles(t *testing.T) {
	t.Run("returns results and applies defaults", func(t *testing.T) {
		pm := &fakePubMed{searchFn: func(_ context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
			return []domain.SearchResult{{PMCID: "PMC123456", Title: "Trial", Authors: []string{"Smith J"}, Year: 2020}}, nil
		}}
		s := newTestServer(pm, nil, nil)

		rr := doRequest(t, s, http.MethodPost, "/api/search", map[string]interface{}{
			"query":      "  cervical cancer AND cisplatin ",
			"dateFilter": "5years",
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var results []domain.SearchResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
		require.Len(t, results, 1)
		assert.Equal(t, "PMC123456", results[0].PMCID)

		require.Len(t, pm.searches, 1)
		assert.Equal(t, "cervical cancer AND cisplatin", pm.searches[0].Query)
		assert.Equal(t, domain.DateFilterFiveYear, pm.searches[0].DateFilter)
		assert.Equal(t, domain.DefaultSearchMaxResults, pm.searches[0].MaxResults)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/search", map[string]string{"query": "nothing"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("invalid json", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/search", "{not json")
		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, msgSearchFailed, resp.Message)
		assert.Contains(t, resp.Error, "invalid JSON")
	})

	t.Run("missing query", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/search", map[string]string{"query": "   "})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Error, "query")
	})

	t.Run("unsupported date filter", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/search",
			map[string]string{"query": "x", "dateFilter": "2years"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Error, "dateFilter")
	})

	t.Run("upstream failure", func(t *testing.T) {
		pm := &fakePubMed{searchFn: func(context.Context, domain.SearchRequest) ([]domain.SearchResult, error) {
			return nil, domain.NewExternalAPIError("pubmed", http.StatusBadGateway, "bad gateway", nil)
		}}
		rr := doRequest(t, newTestServer(pm, nil, nil), http.MethodPost, "/api/search", map[string]string{"query": "x"})
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, msgSearchFailed, resp.Message)
		assert.Contains(t, resp.Error, "bad gateway")
	})
}

// ---------------------------------------------------------------------------
// Article
// ---------------------------------------------------------------------------

func TestGetArticle(t *testing.T) {
	ctx := context.Background()

	t.Run("stored record wins", func(t *testing.T) {
		repo := repository.NewMemoryArticleRepository()
		_, err := repo.Create(ctx, testArticle("PMC123456"))
		require.NoError(t, err)
		pm := &fakePubMed{}

		rr := doRequest(t, newTestServer(pm, nil, repo), http.MethodGet, "/api/article/PMC123456", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var got domain.Article
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "Cervical cancer", got.DiseaseSite)
		assert.Empty(t, pm.fetches)
	})

	t.Run("falls back to PubMed", func(t *testing.T) {
		pm := &fakePubMed{articleFn: func(_ context.Context, id string) (*domain.ArticleDetail, error) {
			return &domain.ArticleDetail{PMCID: id, PMID: "31234567", Title: "Fresh", Year: 2020, RawXML: "<PubmedArticleSet/>"}, nil
		}}

		rr := doRequest(t, newTestServer(pm, nil, nil), http.MethodGet, "/api/article/PMC123456", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var got domain.ArticleDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "31234567", got.PMID)
		assert.Equal(t, "<PubmedArticleSet/>", got.RawXML)
		assert.Equal(t, []string{"PMC123456"}, pm.fetches)
	})

	t.Run("upstream failure", func(t *testing.T) {
		pm := &fakePubMed{articleFn: func(context.Context, string) (*domain.ArticleDetail, error) {
			return nil, domain.NewExternalAPIError("pubmed", 0, "connection reset", nil)
		}}

		rr := doRequest(t, newTestServer(pm, nil, nil), http.MethodGet, "/api/article/PMC1", nil)
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, msgFetchArticle, decodeError(t, rr).Message)
	})
}

func TestSaveArticle(t *testing.T) {
	metrics := observability.NewMetrics("httpserver_test_save")
	pub := &recordingPublisher{}
	notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), pub, zerolog.Nop(), metrics)
	repo := repository.NewMemoryArticleRepository()
	s := newTestServer(nil, nil, repo, WithMetrics(metrics), WithNotifier(notifier))

	rr := doRequest(t, s, http.MethodPost, "/api/articles", testArticle("PMC123456"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var first domain.Article
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.NotZero(t, first.ID)

	update := testArticle("PMC123456")
	update.DiseaseSite = "Locally advanced cervical cancer"
	rr = doRequest(t, s, http.MethodPost, "/api/articles", update)
	require.Equal(t, http.StatusOK, rr.Code)
	var second domain.Article
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Locally advanced cervical cancer", second.DiseaseSite)

	_, total, err := repo.List(context.Background(), repository.ArticleFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ArticlesSaved.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ArticlesSaved.WithLabelValues("updated")))
	assert.Equal(t, []string{domain.EventTypeArticleSaved, domain.EventTypeArticleSaved}, pub.types())
}

func TestSaveArticle_Validation(t *testing.T) {
	tests := []struct {
		name     string
		body     interface{}
		errField string
	}{
		{name: "invalid json", body: "[", errField: "invalid JSON"},
		{name: "missing pmcid", body: map[string]interface{}{"title": "T"}, errField: "pmcid"},
		{name: "missing title", body: map[string]interface{}{"pmcid": "PMC1"}, errField: "title"},
		{name: "year out of range", body: map[string]interface{}{"pmcid": "PMC1", "title": "T", "year": 10000}, errField: "year"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/articles", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, msgSaveFailed, resp.Message)
			assert.Contains(t, resp.Error, tt.errField)
		})
	}
}

func TestSaveArticle_StoreFailure(t *testing.T) {
	s := newTestServer(nil, nil, nil, WithSaveFunc(func(context.Context, *domain.Article) (*domain.Article, bool, error) {
		return nil, false, errors.New("disk full")
	}))

	rr := doRequest(t, s, http.MethodPost, "/api/articles", testArticle("PMC1"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decodeError(t, rr).Error, "disk full")
}

func TestListArticles(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryArticleRepository()
	for _, id := range []string{"PMC1", "PMC2", "PMC3"} {
		a := testArticle(id)
		a.Processed = id != "PMC2"
		_, err := repo.Create(ctx, a)
		require.NoError(t, err)
	}
	s := newTestServer(nil, nil, repo)

	t.Run("pages newest first", func(t *testing.T) {
		rr := doRequest(t, s, http.MethodGet, "/api/articles?page_size=2", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var page listArticlesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		assert.Equal(t, int64(3), page.TotalCount)
		require.Len(t, page.Articles, 2)
		assert.Equal(t, "PMC3", page.Articles[0].PMCID)
		require.NotEmpty(t, page.NextPageToken)

		rr = doRequest(t, s, http.MethodGet, "/api/articles?page_size=2&page_token="+page.NextPageToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var next listArticlesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &next))
		require.Len(t, next.Articles, 1)
		assert.Equal(t, "PMC1", next.Articles[0].PMCID)
		assert.Empty(t, next.NextPageToken)
	})

	t.Run("filters by processed", func(t *testing.T) {
		rr := doRequest(t, s, http.MethodGet, "/api/articles?processed=false", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var page listArticlesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		require.Len(t, page.Articles, 1)
		assert.Equal(t, "PMC2", page.Articles[0].PMCID)
	})

	t.Run("rejects invalid processed flag", func(t *testing.T) {
		rr := doRequest(t, s, http.MethodGet, "/api/articles?processed=maybe", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Error, "processed")
	})

	t.Run("empty store", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodGet, "/api/articles", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"articles":[],"totalCount":0}`, rr.Body.String())
	})
}

func TestParsePaginationParams(t *testing.T) {
	token := base64.StdEncoding.EncodeToString([]byte("40"))
	tests := []struct {
		name           string
		query          string
		expectedLimit  int
		expectedOffset int
	}{
		{name: "defaults", query: "", expectedLimit: defaultPageSize},
		{name: "custom size", query: "page_size=10", expectedLimit: 10},
		{name: "size capped", query: "page_size=1000", expectedLimit: maxPageSize},
		{name: "invalid size", query: "page_size=-3", expectedLimit: defaultPageSize},
		{name: "token", query: "page_token=" + token, expectedLimit: defaultPageSize, expectedOffset: 40},
		{name: "garbage token", query: "page_token=%%%", expectedLimit: defaultPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/articles?"+tt.query, nil)
			limit, offset := parsePaginationParams(req)
			assert.Equal(t, tt.expectedLimit, limit)
			assert.Equal(t, tt.expectedOffset, offset)
		})
	}
}

func TestEncodeHTTPPageToken(t *testing.T) {
	assert.Empty(t, encodeHTTPPageToken(0, 50, 50))
	token := encodeHTTPPageToken(0, 50, 51)
	decoded, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Equal(t, "50", string(decoded))
}

// ---------------------------------------------------------------------------
// Abstract
// ---------------------------------------------------------------------------

func TestGetAbstract(t *testing.T) {
	t.Run("labeled record", func(t *testing.T) {
		pm := &fakePubMed{abstractFn: func(_ context.Context, id string) (*domain.AbstractRecord, error) {
			return &domain.AbstractRecord{PMCID: id, PMID: "31234567", Title: "Trial", PublicationDate: "2020/Mar/5", AbstractText: "Background."}, nil
		}}

		rr := doRequest(t, newTestServer(pm, nil, nil), http.MethodGet, "/api/abstract/PMC123456", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "PMID: 31234567", body["pmid"])
		assert.Equal(t, "DP: 2020/Mar/5", body["dp"])
		assert.Equal(t, "LID: 31234567 [pmid]", body["lid"])
		assert.Equal(t, "Background.", body["fullAbstract"])
		assert.Equal(t, "PMC123456", body["pmcid"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		pm := &fakePubMed{abstractFn: func(context.Context, string) (*domain.AbstractRecord, error) {
			return nil, domain.NewExternalAPIError("pubmed", http.StatusServiceUnavailable, "unavailable", nil)
		}}

		rr := doRequest(t, newTestServer(pm, nil, nil), http.MethodGet, "/api/abstract/PMC1", nil)
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, msgFetchAbstract, resp.Message)
		assert.Contains(t, resp.Error, "unavailable")
	})
}

// ---------------------------------------------------------------------------
// Extract
// ---------------------------------------------------------------------------

func TestExtractArticle(t *testing.T) {
	t.Run("stores the extracted record", func(t *testing.T) {
		pub := &recordingPublisher{}
		notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), pub, zerolog.Nop(), nil)
		ex := &fakeExtractor{result: func(in extraction.Input) (*domain.Article, error) {
			a := testArticle(in.PMCID)
			a.DOI = in.DOI
			return a, nil
		}}
		repo := repository.NewMemoryArticleRepository()
		s := newTestServer(nil, ex, repo, WithNotifier(notifier))

		rr := doRequest(t, s, http.MethodPost, "/api/extract", extractRequest{
			AbstractText: "abstract", PMCID: " PMC123456 ", Title: "Trial", DOI: "10.1/x",
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var stored domain.Article
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stored))
		assert.NotZero(t, stored.ID)
		assert.Equal(t, "PMC123456", stored.PMCID)
		assert.Equal(t, "10.1/x", stored.DOI)

		require.Len(t, ex.inputs, 1)
		assert.Equal(t, extraction.Input{Title: "Trial", AbstractText: "abstract", PMCID: "PMC123456", DOI: "10.1/x"}, ex.inputs[0])

		_, err := repo.GetByPMCID(context.Background(), "PMC123456")
		require.NoError(t, err)
		assert.Equal(t, []string{domain.EventTypeArticleExtracted, domain.EventTypeArticleSaved}, pub.types())
	})

	t.Run("missing pmcid", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/extract", extractRequest{Title: "T"})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, msgExtractFailed, resp.Message)
		assert.Contains(t, resp.Error, "pmcid")
	})

	t.Run("invalid json", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodPost, "/api/extract", "nope")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("model failure is not stored", func(t *testing.T) {
		pub := &recordingPublisher{}
		metrics := observability.NewMetrics("httpserver_test_extract_failed")
		notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), pub, zerolog.Nop(), metrics)
		ex := &fakeExtractor{result: func(extraction.Input) (*domain.Article, error) {
			return nil, domain.NewParseError("openai", "response is not a JSON object", nil)
		}}
		repo := repository.NewMemoryArticleRepository()
		s := newTestServer(nil, ex, repo, WithNotifier(notifier))

		rr := doRequest(t, s, http.MethodPost, "/api/extract", extractRequest{PMCID: "PMC1", Title: "T"})
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, msgExtractFailed, resp.Message)
		assert.Contains(t, resp.Error, "not a JSON object")

		_, err := repo.GetByPMCID(context.Background(), "PMC1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, []string{domain.EventTypeArticleExtracted}, pub.types())
		assert.Contains(t, string(pub.events[0].Payload), `"outcome":"failed"`)
	})

	t.Run("insufficient outcome", func(t *testing.T) {
		pub := &recordingPublisher{}
		notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), pub, zerolog.Nop(), nil)
		ex := &fakeExtractor{result: func(in extraction.Input) (*domain.Article, error) {
			a := testArticle(in.PMCID)
			a.Processed = false
			return a, nil
		}}

		rr := doRequest(t, newTestServer(nil, ex, nil, WithNotifier(notifier)), http.MethodPost, "/api/extract",
			extractRequest{PMCID: "PMC1", Title: "T", AbstractText: "short"})
		require.Equal(t, http.StatusOK, rr.Code)
		require.NotEmpty(t, pub.events)
		assert.Contains(t, string(pub.events[0].Payload), `"outcome":"insufficient"`)
	})
}

// ---------------------------------------------------------------------------
// Export and report
// ---------------------------------------------------------------------------

func TestExportArticle(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodGet, "/api/export/PMC404", nil)
		require.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"message":"Article not found"}`, rr.Body.String())
	})

	t.Run("attachment named by doi", func(t *testing.T) {
		repo := repository.NewMemoryArticleRepository()
		_, err := repo.Create(ctx, testArticle("PMC123456"))
		require.NoError(t, err)
		s := newTestServer(nil, nil, repo)

		rr := doRequest(t, s, http.MethodGet, "/api/export/PMC123456", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, `attachment; filename="10_1200_JCO_19_01234.json"`, rr.Header().Get("Content-Disposition"))
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var got domain.Article
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "PMC123456", got.PMCID)

		etag := rr.Header().Get("ETag")
		require.NotEmpty(t, etag)
		assert.Len(t, etag, 18)

		req := httptest.NewRequest(http.MethodGet, "/api/export/PMC123456", nil)
		req.Header.Set("If-None-Match", etag)
		cached := httptest.NewRecorder()
		s.Handler().ServeHTTP(cached, req)
		assert.Equal(t, http.StatusNotModified, cached.Code)
		assert.Empty(t, cached.Body.String())
	})

	t.Run("attachment named by pmcid without doi", func(t *testing.T) {
		repo := repository.NewMemoryArticleRepository()
		a := testArticle("PMC-9")
		a.DOI = ""
		_, err := repo.Create(ctx, a)
		require.NoError(t, err)

		rr := doRequest(t, newTestServer(nil, nil, repo), http.MethodGet, "/api/export/PMC-9", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, `attachment; filename="PMC_9.json"`, rr.Header().Get("Content-Disposition"))
	})
}

func TestReportArticle(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		rr := doRequest(t, newTestServer(nil, nil, nil), http.MethodGet, "/api/report/PMC404", nil)
		require.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"message":"Article not found"}`, rr.Body.String())
	})

	t.Run("renders html", func(t *testing.T) {
		repo := repository.NewMemoryArticleRepository()
		a := testArticle("PMC123456")
		a.AdditionalNotes = "<script>alert(1)</script>"
		_, err := repo.Create(context.Background(), a)
		require.NoError(t, err)

		rr := doRequest(t, newTestServer(nil, nil, repo), http.MethodGet, "/api/report/PMC123456", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="clinical-trial-report-PMC123456.html"`, rr.Header().Get("Content-Disposition"))

		body := rr.Body.String()
		assert.Contains(t, body, "<title>Clinical Trial Data Report - PMC123456</title>")
		assert.Contains(t, body, "Median Follow-up Duration")
		assert.Contains(t, body, "Arm A: weekly cisplatin\nArm B: tri-weekly cisplatin")
		assert.Contains(t, body, "Generated on June 1, 2025 at 09:30:00 UTC")
		assert.NotContains(t, body, "<script>")
		assert.Less(t, strings.Index(body, "First Author"), strings.Index(body, ">Year<"))
	})
}

func TestRenderReport_MissingDOI(t *testing.T) {
	a := testArticle("PMC1")
	a.DOI = ""
	page, err := renderReport(a, fixedNow())
	require.NoError(t, err)
	assert.Contains(t, string(page), `<span class="field-value doi">Not specified</span>`)
}
