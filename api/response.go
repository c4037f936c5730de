package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aluiziolira/shelf-feed/models"
)

// ShelfResponse is the body of the shelf routes.
type ShelfResponse struct {
	Items   []models.BookRecord `json:"items"`
	Warning string              `json:"warning,omitempty"`
}

// RawResponse is the body of the raw feed debug route.
type RawResponse struct {
	Status  int    `json:"status"`
	Len     int    `json:"len"`
	Snippet string `json:"snippet"`
}

// ErrorResponse is the body of every failed request. UpstreamStatus is set
// when the failure came from a non-success upstream response.
type ErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: message}, logger)
}
