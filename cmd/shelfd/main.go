package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/shelf-feed/api"
	"github.com/aluiziolira/shelf-feed/config"
	"github.com/aluiziolira/shelf-feed/logging"
	"github.com/aluiziolira/shelf-feed/scraper"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	addr := flag.String("addr", "", "Listen address (default :8080)")
	readFeed := flag.String("read-feed", "", "Read-shelf RSS URL (GOODREADS_READ_RSS)")
	updatesFeed := flag.String("updates-feed", "", "Recent-updates RSS URL (GOODREADS_UPDATES_RSS)")
	cacheTTL := flag.Duration("cache-ttl", 0, "Cache lifetime (default 15m)")
	fetchLimit := flag.Int("limit", 0, "Maximum feed entries parsed per refresh (default 200)")
	timeout := flag.Duration("timeout", 0, "Upstream request timeout (default 15s)")
	maxRetries := flag.Int("max-retries", 0, "Retry attempts for transient upstream failures (default 2)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	// Local env files are optional; real environment variables win.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "read-feed":
			cfg.ReadFeedURL = *readFeed
		case "updates-feed":
			cfg.UpdatesFeedURL = *updatesFeed
		case "cache-ttl":
			cfg.CacheTTL = *cacheTTL
		case "limit":
			cfg.FetchLimit = *fetchLimit
		case "timeout":
			cfg.Timeout = *timeout
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "v":
			cfg.Verbose = *verbose
		}
	})

	logger, level := logging.New(cfg.Verbose, os.Stdout)
	logging.Install(logger, level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.ReadFeedURL == "" {
		slog.Warn("GOODREADS_READ_RSS is not set; /books/finished will report an error until it is")
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewServer(cfg, s, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Timeout*time.Duration(cfg.MaxRetries+1) + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP expires the cached shelves without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				slog.Info("reload signal received, expiring cached shelves")
				handler.Invalidate()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening",
			slog.String("addr", cfg.Addr),
			slog.Duration("cache_ttl", cfg.CacheTTL),
			slog.Int("fetch_limit", cfg.FetchLimit),
			slog.Bool("updates_feed", cfg.UpdatesFeedURL != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
}
