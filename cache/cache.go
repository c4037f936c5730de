// Package cache holds the most recent parsed shelf and decides when it is
// stale.
package cache

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aluiziolira/shelf-feed/models"
	"golang.org/x/sync/singleflight"
)

// Status describes how a Get was served.
type Status string

const (
	StatusHit   Status = "hit"
	StatusMiss  Status = "miss"
	StatusStale Status = "stale"
)

// Loader fetches and parses a fresh record list.
type Loader func(ctx context.Context) ([]models.BookRecord, error)

// Recorder receives cache events. *scraper.Metrics satisfies it.
type Recorder interface {
	IncCacheLookup(result string)
	IncRefreshFailure()
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithRecorder reports hits, misses and failed refreshes.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		c.recorder = r
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache is a single-slot, read-through cache. The record list is replaced
// wholesale on refresh and never mutated in place.
type Cache struct {
	load     Loader
	ttl      time.Duration
	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	records    []models.BookRecord
	capturedAt time.Time
	populated  bool
}

// New creates an empty cache.
func New(load Loader, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		load:   load,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached records, refreshing first when the cache is empty,
// expired, or force is set. When a refresh fails the previous records are
// returned with StatusStale alongside the error; the stored state is left
// untouched.
func (c *Cache) Get(ctx context.Context, force bool) ([]models.BookRecord, Status, error) {
	if !force {
		if records, ok := c.fresh(); ok {
			c.record(StatusHit)
			return records, StatusHit, nil
		}
	}

	// The loader runs detached from the caller so one cancelled request
	// does not fail every caller sharing the flight.
	loadCtx := context.WithoutCancel(ctx)
	// Forced callers never join a plain flight, which may answer from the
	// slot without fetching.
	key := "refresh"
	if force {
		key = "force"
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished just before this one started already
		// refreshed the slot.
		if !force {
			if records, ok := c.fresh(); ok {
				return records, nil
			}
		}
		return c.refresh(loadCtx)
	})
	if err != nil {
		if c.recorder != nil {
			c.recorder.IncRefreshFailure()
		}
		c.logger.Warn("shelf refresh failed, serving previous records", slog.Any("error", err))

		records, _, ok := c.Snapshot()
		if !ok {
			c.record(StatusMiss)
			return nil, StatusMiss, err
		}
		c.record(StatusStale)
		return records, StatusStale, err
	}

	c.record(StatusMiss)
	return slices.Clone(v.([]models.BookRecord)), StatusMiss, nil
}

func (c *Cache) refresh(ctx context.Context) ([]models.BookRecord, error) {
	records, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	sorted := slices.Clone(records)
	SortByFinished(sorted)

	c.mu.Lock()
	c.records = sorted
	c.capturedAt = c.now()
	c.populated = true
	c.mu.Unlock()

	return sorted, nil
}

func (c *Cache) fresh() ([]models.BookRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated || c.now().Sub(c.capturedAt) >= c.ttl {
		return nil, false
	}
	return slices.Clone(c.records), true
}

// Invalidate marks the slot expired so the next Get refreshes. Stored
// records stay servable if that refresh fails.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.capturedAt = time.Time{}
	c.mu.Unlock()
}

// Snapshot returns the stored records and capture time without fetching.
func (c *Cache) Snapshot() ([]models.BookRecord, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return nil, time.Time{}, false
	}
	return slices.Clone(c.records), c.capturedAt, true
}

func (c *Cache) record(status Status) {
	if c.recorder != nil {
		c.recorder.IncCacheLookup(string(status))
	}
}

// SortByFinished orders records newest finished first. Unknown dates
// (timestamp 0) sort last; ties keep their feed order.
func SortByFinished(records []models.BookRecord) {
	slices.SortStableFunc(records, func(a, b models.BookRecord) int {
		return cmp.Compare(b.FinishedTS, a.FinishedTS)
	})
}
