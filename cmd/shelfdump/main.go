package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/shelf-feed/cache"
	"github.com/aluiziolira/shelf-feed/config"
	"github.com/aluiziolira/shelf-feed/logging"
	"github.com/aluiziolira/shelf-feed/pipeline"
	"github.com/aluiziolira/shelf-feed/scraper"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	feed := flag.String("feed", "read", "Feed to dump: read or updates")
	feedURL := flag.String("url", "", "Feed URL, overriding the configured one")
	limit := flag.Int("limit", 0, "Maximum feed entries parsed (default from config)")
	outputFile := flag.String("output", pipeline.Stdout, "Output file path, - for stdout")
	outputFormat := flag.String("format", "jsonl", "Output format: csv, jsonl, or dual")
	sorted := flag.Bool("sort", true, "Order records newest finished first")
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
	if *verbose {
		cfg.Verbose = true
	}
	if *limit > 0 {
		cfg.FetchLimit = *limit
	}

	// stdout may carry records, so logs go to stderr.
	logger, level := logging.New(cfg.Verbose, os.Stderr)
	logging.Install(logger, level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	target, err := selectFeed(cfg, *feed, *feedURL)
	if err != nil {
		slog.Error("selecting feed", slog.Any("error", err))
		os.Exit(1)
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(strings.ToLower(*outputFormat), *outputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	records, err := s.Parse(ctx, target, cfg.FetchLimit)
	if err != nil {
		writer.Close()
		slog.Error("fetching feed", slog.String("url", target), slog.Any("error", err))
		os.Exit(1)
	}
	if *sorted {
		cache.SortByFinished(records)
	}

	p := pipeline.NewPipeline(writer)
	p.Start()
	if err := p.Process(records...); err != nil {
		slog.Error("processing records", slog.Any("error", err))
	}
	if err := p.Close(); err != nil {
		writer.Close()
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	if stats := p.Stats(); stats.Written > 0 {
		if err := writer.Validate(); err != nil {
			writer.Close()
			slog.Error("output validation failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
		os.Exit(1)
	}

	printSummary(target, len(records), p.Stats(), time.Since(startTime), *outputFile)
}

func selectFeed(cfg *config.Config, feed, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	switch feed {
	case "read":
		if cfg.ReadFeedURL == "" {
			return "", config.ErrFeedNotConfigured
		}
		return cfg.ReadFeedURL, nil
	case "updates":
		if cfg.UpdatesFeedURL == "" {
			return "", fmt.Errorf("GOODREADS_UPDATES_RSS not configured")
		}
		return cfg.UpdatesFeedURL, nil
	default:
		return "", fmt.Errorf("unknown feed %q, want read or updates", feed)
	}
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json", "jsonl":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		return pipeline.NewDualWriter(filename, pipeline.JSONPath(filename))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(feedURL string, parsed int, stats pipeline.Stats, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(os.Stderr, separator)
	fmt.Fprintln(os.Stderr, "Dump complete")
	fmt.Fprintf(os.Stderr, "  Feed:          %s\n", feedURL)
	fmt.Fprintf(os.Stderr, "  Parsed:        %d\n", parsed)
	fmt.Fprintf(os.Stderr, "  Written:       %d\n", stats.Written)
	if len(stats.Rejected) > 0 {
		fmt.Fprintf(os.Stderr, "  Rejected:      %v\n", stats.Rejected)
	}
	fmt.Fprintf(os.Stderr, "  Duration:      %v\n", duration)
	fmt.Fprintf(os.Stderr, "  Output:        %s\n", outputFile)
	fmt.Fprintln(os.Stderr, separator)
}
