package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type listArticlesResponse struct {
	Articles      []*domain.Article `json:"articles"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
	TotalCount    int64             `json:"totalCount"`
}

// extractRequest is the body of POST /api/extract.
type extractRequest struct {
	AbstractText string `json:"abstractText"`
	PMCID        string `json:"pmcid"`
	Title        string `json:"title"`
	DOI          string `json:"doi"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message, detail string) {
	writeJSON(w, statusCode, errorResponse{Message: message, Error: detail})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError classifies err, logs server-side failures and writes the
// error body with message as the summary.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, message string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(message)
	} else {
		logger.Debug().Err(err).Int("status", status).Msg(message)
	}
	writeError(w, status, message, err.Error())
}
