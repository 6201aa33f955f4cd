package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zeebo/xxh3"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/extraction"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
	"github.com/helixir/clinical-trial-extractor/internal/repository"
)

// Pagination and request limits.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// Error summaries returned in the "message" field.
const (
	msgSearchFailed   = "Failed to search PubMed"
	msgFetchArticle   = "Failed to fetch article"
	msgSaveFailed     = "Failed to save article"
	msgListFailed     = "Failed to list articles"
	msgFetchAbstract  = "Failed to fetch abstract data"
	msgExtractFailed  = "Failed to extract clinical trial data"
	msgExportFailed   = "Failed to export article"
	msgReportFailed   = "Failed to render report"
	msgArticleMissing = "Article not found"
)

// decodeBody reads a size-limited JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		return domain.NewValidationError("body", "failed to read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewValidationError("body", "invalid JSON request body")
	}
	return nil
}

// searchArticles handles POST /api/search.
func (s *Server) searchArticles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestContext(ctx, s.logger)

	var req domain.SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, logger, msgSearchFailed, err)
		return
	}
	req.Normalize()
	if err := domain.Validate(&req); err != nil {
		writeDomainError(w, logger, msgSearchFailed, err)
		return
	}

	results, err := s.pubmed.Search(ctx, req)
	if err != nil {
		writeDomainError(w, observability.WithSearchContext(logger, req.Query, req.ArticleType), msgSearchFailed, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	writeJSON(w, http.StatusOK, results)
}

// getArticle handles GET /api/article/{id}. A stored record wins over a fresh
// PubMed fetch.
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	logger := observability.WithArticleContext(observability.WithRequestContext(ctx, s.logger), id, "")

	stored, err := s.articles.GetByPMCID(ctx, id)
	if err == nil {
		writeJSON(w, http.StatusOK, stored)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		writeDomainError(w, logger, msgFetchArticle, err)
		return
	}

	detail, err := s.pubmed.FetchArticle(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg(msgFetchArticle)
		writeError(w, http.StatusInternalServerError, msgFetchArticle, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// saveArticle handles POST /api/articles: validate, then upsert by PMCID.
func (s *Server) saveArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestContext(ctx, s.logger)

	var article domain.Article
	if err := decodeBody(r, &article); err != nil {
		writeDomainError(w, logger, msgSaveFailed, err)
		return
	}
	article.PMCID = strings.TrimSpace(article.PMCID)
	if err := domain.Validate(&article); err != nil {
		writeDomainError(w, logger, msgSaveFailed, err)
		return
	}

	stored, err := s.persist(r, &article)
	if err != nil {
		writeDomainError(w, observability.WithArticleContext(logger, article.PMCID, ""), msgSaveFailed, err)
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// listArticles handles GET /api/articles.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestContext(ctx, s.logger)

	limit, offset := parsePaginationParams(r)
	filter := repository.ArticleFilter{Limit: limit, Offset: offset}

	if v := r.URL.Query().Get("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			writeDomainError(w, logger, msgListFailed, domain.NewValidationError("processed", "must be a boolean"))
			return
		}
		filter.Processed = &processed
	}

	articles, total, err := s.articles.List(ctx, filter)
	if err != nil {
		writeDomainError(w, logger, msgListFailed, err)
		return
	}
	if articles == nil {
		articles = []*domain.Article{}
	}

	writeJSON(w, http.StatusOK, listArticlesResponse{
		Articles:      articles,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(total)),
		TotalCount:    total,
	})
}

// getAbstract handles GET /api/abstract/{id}.
func (s *Server) getAbstract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	record, err := s.pubmed.FetchAbstract(ctx, id)
	if err != nil {
		logger := observability.WithArticleContext(observability.WithRequestContext(ctx, s.logger), id, "")
		logger.Error().Err(err).Msg(msgFetchAbstract)
		writeError(w, http.StatusInternalServerError, msgFetchAbstract, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// extractArticle handles POST /api/extract: run the extraction and store the
// result under the caller's PMCID.
func (s *Server) extractArticle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequestContext(ctx, s.logger)

	var req extractRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, logger, msgExtractFailed, err)
		return
	}
	req.PMCID = strings.TrimSpace(req.PMCID)
	if req.PMCID == "" {
		writeDomainError(w, logger, msgExtractFailed, domain.NewValidationError("pmcid", "is required"))
		return
	}
	logger = observability.WithArticleContext(logger, req.PMCID, "")

	article, err := s.extractor.Extract(ctx, extraction.Input{
		Title:        req.Title,
		AbstractText: req.AbstractText,
		PMCID:        req.PMCID,
		DOI:          req.DOI,
	})
	if err != nil {
		s.notifier.ArticleExtracted(ctx, req.PMCID, observability.ExtractionOutcomeFailed, s.extractor.Model())
		writeDomainError(w, logger, msgExtractFailed, err)
		return
	}

	outcome := observability.ExtractionOutcomeCompleted
	if !article.Processed {
		outcome = observability.ExtractionOutcomeInsufficient
	}
	s.notifier.ArticleExtracted(ctx, article.PMCID, outcome, s.extractor.Model())

	stored, err := s.persist(r, article)
	if err != nil {
		writeDomainError(w, logger, msgExtractFailed, err)
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// exportArticle handles GET /api/export/{id}: the stored record as a JSON
// attachment with a content-hash ETag.
func (s *Server) exportArticle(w http.ResponseWriter, r *http.Request) {
	article, ok := s.lookupStored(w, r, msgExportFailed)
	if !ok {
		return
	}

	body, err := json.Marshal(article)
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgExportFailed, err.Error())
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(body))
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, article.ExportFilename()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// reportArticle handles GET /api/report/{id}: a standalone HTML report.
func (s *Server) reportArticle(w http.ResponseWriter, r *http.Request) {
	article, ok := s.lookupStored(w, r, msgReportFailed)
	if !ok {
		return
	}

	page, err := renderReport(article, s.now())
	if err != nil {
		logger := observability.WithRequestContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg(msgReportFailed)
		writeError(w, http.StatusInternalServerError, msgReportFailed, err.Error())
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, article.ReportFilename()))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// lookupStored loads the record named by the {id} parameter. On failure it
// writes the response and returns false; a missing record is a 404 with
// {"message":"Article not found"}.
func (s *Server) lookupStored(w http.ResponseWriter, r *http.Request, failure string) (*domain.Article, bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	article, err := s.articles.GetByPMCID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Message: msgArticleMissing})
			return nil, false
		}
		logger := observability.WithArticleContext(observability.WithRequestContext(ctx, s.logger), id, "")
		writeDomainError(w, logger, failure, err)
		return nil, false
	}
	return article, true
}

// persist saves article, then records the save and publishes article.saved.
func (s *Server) persist(r *http.Request, article *domain.Article) (*domain.Article, error) {
	ctx := r.Context()

	stored, created, err := s.save(ctx, article)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordArticleSaved(created)
	s.notifier.ArticleSaved(ctx, stored, created)

	logger := observability.WithArticleContext(observability.WithRequestContext(ctx, s.logger), stored.PMCID, "")
	logger.Info().
		Int64("article_id", stored.ID).
		Bool("created", created).
		Bool("processed", stored.Processed).
		Msg("article saved")

	return stored, nil
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
