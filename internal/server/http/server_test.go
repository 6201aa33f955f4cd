package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/extraction"
	"github.com/helixir/clinical-trial-extractor/internal/llm"
	"github.com/helixir/clinical-trial-extractor/internal/outbox"
	"github.com/helixir/clinical-trial-extractor/internal/papersources"
	"github.com/helixir/clinical-trial-extractor/internal/papersources/pubmed"
	"github.com/helixir/clinical-trial-extractor/internal/repository"
)

const e2eElinkJSON = `{"linksets": [{"dbfrom": "pmc", "ids": ["123456"],
	"linksetdbs": [{"dbto": "pubmed", "linkname": "pmc_pubmed", "links": ["31234567"]}]}]}`

const e2eEfetchXML = `<?xml version="1.0" ?>
<PubmedArticleSet>
<PubmedArticle>
	<MedlineCitation Status="MEDLINE" Owner="NLM">
		<PMID Version="1">31234567</PMID>
		<Article PubModel="Print">
			<Journal>
				<JournalIssue CitedMedium="Internet">
					<PubDate><Year>2020</Year><Month>Mar</Month><Day>5</Day></PubDate>
				</JournalIssue>
				<Title>Journal of Clinical Oncology</Title>
			</Journal>
			<ArticleTitle>Weekly versus tri-weekly cisplatin with pelvic radiotherapy in cervical cancer.</ArticleTitle>
			<Abstract>
				<AbstractText Label="BACKGROUND">The optimal cisplatin schedule with chemoradiation is unclear.</AbstractText>
				<AbstractText Label="METHODS">We randomized 120 patients with FIGO IIB&#x2013;IVA disease.</AbstractText>
			</Abstract>
			<AuthorList>
				<Author><LastName>Smith</LastName><Initials>J</Initials></Author>
			</AuthorList>
		</Article>
	</MedlineCitation>
	<PubmedData>
		<ArticleIdList>
			<ArticleId IdType="pubmed">31234567</ArticleId>
			<ArticleId IdType="doi">10.1200/JCO.19.01234</ArticleId>
			<ArticleId IdType="pmc">PMC123456</ArticleId>
		</ArticleIdList>
	</PubmedData>
</PubmedArticle>
</PubmedArticleSet>`

// scriptedCompleter answers every completion with the next canned response.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.Request
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content := c.responses[len(c.requests)%len(c.responses)]
	c.requests = append(c.requests, req)
	return &llm.Response{Content: content, Model: "gpt-4o", InputTokens: 800, OutputTokens: 250}, nil
}

func (c *scriptedCompleter) Provider() string { return "openai" }
func (c *scriptedCompleter) Model() string    { return "gpt-4o" }

func newPubMedStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/elink.fcgi":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(e2eElinkJSON))
		case "/efetch.fcgi":
			w.Header().Set("Content-Type", "text/xml")
			_, _ = w.Write([]byte(e2eEfetchXML))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEndToEnd_AbstractExtractSaveExport(t *testing.T) {
	stub := newPubMedStub(t)
	client := pubmed.New(pubmed.Config{BaseURL: stub.URL},
		pubmed.WithHTTPClient(papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:    5 * time.Second,
			RateLimit:  1000,
			BurstSize:  100,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		})),
	)

	completer := &scriptedCompleter{responses: []string{
		`{"firstAuthor": "Smith J", "year": 2020, "diseaseSite": "Cervical cancer",
		  "trialArms": "Arm A: weekly cisplatin\nArm B: tri-weekly cisplatin", "patientNumbers": 120}`,
		`{"firstAuthor": "Smith J", "year": "2020", "diseaseSite": "Locally advanced cervical cancer"}`,
	}}
	service := extraction.NewService(completer, extraction.WithClock(fixedNow))

	pub := &recordingPublisher{}
	notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), pub, zerolog.Nop(), nil)
	repo := repository.NewMemoryArticleRepository()
	s := newTestServer(client, service, repo, WithNotifier(notifier))

	// Abstract view.
	rr := doRequest(t, s, http.MethodGet, "/api/abstract/PMC123456", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var abstract map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &abstract))
	assert.Equal(t, "PMID: 31234567", abstract["pmid"])
	assert.Equal(t, "DP: 2020/Mar/5", abstract["dp"])
	assert.Equal(t, "LID: 10.1200/JCO.19.01234 [doi]", abstract["lid"])
	assert.Contains(t, abstract["fullAbstract"], "FIGO IIB–IVA")

	extract := extractRequest{
		AbstractText: abstract["fullAbstract"],
		PMCID:        "PMC123456",
		Title:        abstract["title"],
		DOI:          abstract["doi"],
	}

	// First extraction creates the record.
	rr = doRequest(t, s, http.MethodPost, "/api/extract", extract)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var first domain.Article
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.NotZero(t, first.ID)
	assert.Equal(t, "PMC123456", first.PMCID)
	assert.Equal(t, "10.1200/JCO.19.01234", first.DOI)
	assert.Equal(t, 2020, first.Year)
	assert.Equal(t, "Cervical cancer", first.DiseaseSite)
	assert.Equal(t, "120", first.PatientNumbers)
	assert.Equal(t, domain.NotSpecified, first.Statistics)
	assert.True(t, first.Processed)
	require.Len(t, completer.requests, 1)
	assert.True(t, completer.requests[0].JSONMode)
	assert.Contains(t, completer.requests[0].UserPrompt, "FIGO IIB–IVA")

	// Second extraction updates rather than duplicates.
	rr = doRequest(t, s, http.MethodPost, "/api/extract", extract)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var second domain.Article
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Locally advanced cervical cancer", second.DiseaseSite)

	_, total, err := repo.List(context.Background(), repository.ArticleFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// The stored record now wins over PubMed.
	rr = doRequest(t, s, http.MethodGet, "/api/article/PMC123456", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stored domain.Article
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stored))
	assert.Equal(t, second.ID, stored.ID)

	// Export.
	rr = doRequest(t, s, http.MethodGet, "/api/export/PMC123456", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="10_1200_JCO_19_01234.json"`, rr.Header().Get("Content-Disposition"))

	assert.Equal(t, []string{
		domain.EventTypeArticleExtracted, domain.EventTypeArticleSaved,
		domain.EventTypeArticleExtracted, domain.EventTypeArticleSaved,
	}, pub.types())
}

func TestEndToEnd_InsufficientAbstractSkipsModel(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{`{}`}}
	service := extraction.NewService(completer, extraction.WithClock(fixedNow))
	s := newTestServer(nil, service, nil)

	rr := doRequest(t, s, http.MethodPost, "/api/extract", extractRequest{
		PMCID: "PMC777", Title: "Brief report", AbstractText: "Too short to analyse.",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var stored domain.Article
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stored))
	assert.Empty(t, completer.requests)
	assert.False(t, stored.Processed)
	assert.Equal(t, domain.NotAvailableInsufficient, stored.FirstAuthor)
	assert.Equal(t, domain.CannotDetermineNoAbstract, stored.DiseaseSite)
	assert.Equal(t, domain.InsufficientContentNote, stored.AdditionalNotes)
	assert.Equal(t, 2025, stored.Year)
}
