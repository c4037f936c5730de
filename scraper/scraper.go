package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/shelf-feed/config"
	"github.com/aluiziolira/shelf-feed/models"
	"github.com/aluiziolira/shelf-feed/parser"
	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// Scraper fetches shelf feeds and turns their entries into book records.
type Scraper struct {
	cfg       *config.Config
	transport http.RoundTripper
	limiter   *rate.Limiter
	builder   *parser.Builder
	Metrics   *Metrics
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	dates, err := parser.NewNormalizer(cfg.DateMemoSize)
	if err != nil {
		return nil, fmt.Errorf("create date normalizer: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Scraper{
		cfg:       cfg,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 2),
		builder:   parser.NewBuilder(dates),
		Metrics:   NewMetrics(),
	}, nil
}

// WithTransport replaces the transport used for upstream requests.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.transport = rt
}

// Fetch retrieves the feed document. A non-success status returns both the
// RawFeed and a *FetchError carrying the status. Transient failures are
// retried with capped exponential backoff.
func (s *Scraper) Fetch(ctx context.Context, feedURL string) (*models.RawFeed, error) {
	if feedURL == "" {
		return nil, config.ErrFeedNotConfigured
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		lastRaw *models.RawFeed
		lastErr error
	)
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.Metrics.IncRetries()
			if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
				return lastRaw, err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return lastRaw, fmt.Errorf("wait for rate limiter: %w", err)
		}

		raw, err := s.fetchOnce(feedURL)
		if err == nil {
			return raw, nil
		}

		category := errorTypeLabel(err)
		s.Metrics.IncError(category)
		slog.Warn("feed fetch failed",
			slog.String("url", feedURL),
			slog.Int("attempt", attempt+1),
			slog.String("category", category),
			slog.Any("error", err),
		)

		lastRaw, lastErr = raw, err
		if !retryable(err) {
			break
		}
	}
	return lastRaw, lastErr
}

func (s *Scraper) fetchOnce(feedURL string) (*models.RawFeed, error) {
	c := s.newCollector()

	var raw *models.RawFeed
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", s.cfg.Accept)
	})
	c.OnResponse(func(r *colly.Response) {
		raw = &models.RawFeed{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
		}
	})

	start := time.Now()
	err := c.Visit(feedURL)
	s.Metrics.ObserveDuration(time.Since(start))

	if err != nil {
		s.Metrics.IncRequest("error")
		return nil, &FetchError{URL: feedURL, Err: classifyError(err, 0)}
	}
	if raw == nil {
		s.Metrics.IncRequest("error")
		return nil, &FetchError{URL: feedURL, Err: errors.New("no response received")}
	}
	if raw.StatusCode < http.StatusOK || raw.StatusCode >= http.StatusMultipleChoices {
		s.Metrics.IncRequest("status_error")
		return raw, &FetchError{URL: feedURL, StatusCode: raw.StatusCode, Err: classifyError(nil, raw.StatusCode)}
	}
	s.Metrics.IncRequest("ok")
	return raw, nil
}

// newCollector returns a fresh collector per attempt so concurrent fetches
// never share callbacks.
func (s *Scraper) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(s.cfg.Timeout)
	c.ParseHTTPErrorResponse = true
	if s.transport != nil {
		c.WithTransport(s.transport)
	}
	return c
}

// Parse fetches the feed and builds at most limit records in feed order.
// Entries that fail validation are skipped.
func (s *Scraper) Parse(ctx context.Context, feedURL string, limit int) ([]models.BookRecord, error) {
	raw, err := s.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw.Body))
	if err != nil {
		s.Metrics.IncError("parse")
		return nil, fmt.Errorf("%w: %v", ErrFeedParse, err)
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	records := make([]models.BookRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		record := s.buildRecord(item)
		if err := parser.ValidateRecord(&record); err != nil {
			s.Metrics.IncInvalid()
			slog.Debug("skipping feed entry", slog.String("link", item.Link), slog.Any("error", err))
			continue
		}
		s.Metrics.IncItems()
		records = append(records, record)
	}

	slog.Debug("parsed shelf feed",
		slog.String("url", feedURL),
		slog.Int("entries", len(feed.Items)),
		slog.Int("records", len(records)),
	)
	return records, nil
}

func (s *Scraper) buildRecord(item *gofeed.Item) models.BookRecord {
	markup := item.Description
	if strings.TrimSpace(markup) == "" {
		markup = item.Content
	}
	return s.builder.Build(item.Title, item.Link, parser.HTMLToText(markup), entryFields(item))
}

// entryFields flattens the structured parts of a feed item. Custom elements
// win over extensions, which win over the standard item fields.
func entryFields(item *gofeed.Item) parser.Entry {
	entry := make(parser.Entry)
	for key, value := range item.Custom {
		entry[strings.ToLower(key)] = value
	}
	for _, byName := range item.Extensions {
		for name, exts := range byName {
			key := strings.ToLower(name)
			if _, ok := entry[key]; ok || len(exts) == 0 {
				continue
			}
			entry[key] = exts[0].Value
		}
	}

	setDefault := func(key, value string) {
		if value == "" {
			return
		}
		if _, ok := entry[key]; !ok {
			entry[key] = value
		}
	}
	if item.Author != nil {
		setDefault("author", item.Author.Name)
	}
	setDefault("published", item.Published)
	setDefault("pubdate", item.Published)
	setDefault("updated", item.Updated)
	return entry
}

func (s *Scraper) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := s.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := s.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		default:
			return ErrUpstream{StatusCode: statusCode, Err: wrapped}
		}
	}

	return err
}
