package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/shelf-feed/cache"
	"github.com/aluiziolira/shelf-feed/config"
	"github.com/aluiziolira/shelf-feed/models"
	"github.com/aluiziolira/shelf-feed/scraper"
)

// snippetLen caps the raw route's preview, in characters.
const snippetLen = 2000

var errUpdatesNotConfigured = errors.New("GOODREADS_UPDATES_RSS not configured")

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleFinished(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ReadFeedURL == "" {
		writeError(w, http.StatusInternalServerError, config.ErrFeedNotConfigured.Error(), s.logger)
		return
	}
	s.serveShelf(w, r, s.finished)
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpdatesFeedURL == "" {
		writeError(w, http.StatusNotFound, errUpdatesNotConfigured.Error(), s.logger)
		return
	}
	s.serveShelf(w, r, s.updates)
}

// serveShelf answers from the cache slot, honouring nocache and limit.
func (s *Server) serveShelf(w http.ResponseWriter, r *http.Request, slot *cache.Cache) {
	query, err := parseShelfQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	records, status, err := slot.Get(r.Context(), query.NoCache)
	if err != nil && status != cache.StatusStale {
		s.writeFetchError(w, err)
		return
	}

	if limit := query.limit(); limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	resp := ShelfResponse{Items: records}
	if resp.Items == nil {
		resp.Items = []models.BookRecord{}
	}
	if err != nil {
		resp.Warning = fmt.Sprintf("serving cached records, refresh failed: %v", err)
	}

	w.Header().Set("X-Cache", strings.ToUpper(string(status)))
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleFinishedRaw(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ReadFeedURL == "" {
		writeError(w, http.StatusInternalServerError, config.ErrFeedNotConfigured.Error(), s.logger)
		return
	}

	raw, err := s.scraper.Fetch(r.Context(), s.cfg.ReadFeedURL)
	if raw == nil {
		if err == nil {
			err = errors.New("no response received")
		}
		s.writeFetchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RawResponse{
		Status:  raw.StatusCode,
		Len:     len(raw.Body),
		Snippet: snippet(raw.Body, snippetLen),
	}, s.logger)
}

func (s *Server) writeFetchError(w http.ResponseWriter, err error) {
	if errors.Is(err, config.ErrFeedNotConfigured) {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	s.logger.Warn("upstream feed unavailable", slog.Any("error", err))
	writeJSON(w, http.StatusBadGateway, ErrorResponse{
		Error:          err.Error(),
		UpstreamStatus: scraper.StatusCode(err),
	}, s.logger)
}

// snippet returns the first n characters of body, never splitting a rune.
func snippet(body []byte, n int) string {
	if utf8.RuneCount(body) <= n {
		return string(body)
	}
	i := 0
	for count := 0; count < n; count++ {
		_, size := utf8.DecodeRune(body[i:])
		i += size
	}
	return string(body[:i])
}
