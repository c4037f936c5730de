// Package api exposes the parsed shelf over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aluiziolira/shelf-feed/cache"
	"github.com/aluiziolira/shelf-feed/config"
	"github.com/aluiziolira/shelf-feed/models"
	"github.com/aluiziolira/shelf-feed/scraper"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server routes requests to the shelf caches.
type Server struct {
	cfg      *config.Config
	scraper  *scraper.Scraper
	finished *cache.Cache
	updates  *cache.Cache
	logger   *slog.Logger
	router   *chi.Mux
}

// NewServer wires one cache slot per configured feed and builds the router.
func NewServer(cfg *config.Config, s *scraper.Scraper, logger *slog.Logger, opts ...cache.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	cacheOpts := append([]cache.Option{
		cache.WithRecorder(s.Metrics),
		cache.WithLogger(logger),
	}, opts...)

	srv := &Server{
		cfg:      cfg,
		scraper:  s,
		finished: cache.New(shelfLoader(s, cfg.ReadFeedURL, cfg.FetchLimit), cfg.CacheTTL, cacheOpts...),
		updates:  cache.New(shelfLoader(s, cfg.UpdatesFeedURL, cfg.FetchLimit), cfg.CacheTTL, cacheOpts...),
		logger:   logger,
		router:   chi.NewRouter(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func shelfLoader(s *scraper.Scraper, feedURL string, limit int) cache.Loader {
	return func(ctx context.Context) ([]models.BookRecord, error) {
		return s.Parse(ctx, feedURL, limit)
	}
}

// Invalidate expires both cache slots so the next request refetches.
func (s *Server) Invalidate() {
	s.finished.Invalidate()
	s.updates.Invalidate()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.StripSlashes)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{"X-Cache", requestIDHeader},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleHealth)
	s.router.Route("/books", func(r chi.Router) {
		r.Get("/finished", s.handleFinished)
		r.Get("/finished/raw", s.handleFinishedRaw)
		r.Get("/updates", s.handleUpdates)
	})
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.scraper.Metrics.Registry, promhttp.HandlerOpts{}))
}
