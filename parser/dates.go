package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

const defaultMemoSize = 1024

// NormalizeDate parses a loosely formatted date. Input without a zone is read
// as UTC. Slash dates are month first unless the month would be out of range,
// in which case day and month are swapped. The date string keeps the zone the input carried; the epoch seconds
// keep the full instant. Unparseable input, and instants at or before the
// Unix epoch, yield ("", 0).
func NormalizeDate(raw string) (string, int64) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	t, err := dateparse.ParseIn(raw, time.UTC, dateparse.RetryAmbiguousDateWithSwap(true))
	if err != nil {
		return "", 0
	}
	ts := t.Unix()
	if ts <= 0 {
		return "", 0
	}
	return t.Format(DateLayout), ts
}

type normalizedDate struct {
	date string
	ts   int64
}

// Normalizer memoises NormalizeDate. Shelf feeds repeat the same handful of
// date strings across refreshes.
type Normalizer struct {
	memo *lru.Cache[string, normalizedDate]
}

// NewNormalizer builds a Normalizer remembering up to size inputs.
func NewNormalizer(size int) (*Normalizer, error) {
	if size <= 0 {
		size = defaultMemoSize
	}
	memo, err := lru.New[string, normalizedDate](size)
	if err != nil {
		return nil, fmt.Errorf("create date memo: %w", err)
	}
	return &Normalizer{memo: memo}, nil
}

// Normalize behaves like NormalizeDate. A nil Normalizer does not memoise.
func (n *Normalizer) Normalize(raw string) (string, int64) {
	if n == nil || n.memo == nil {
		return NormalizeDate(raw)
	}

	key := strings.TrimSpace(raw)
	if v, ok := n.memo.Get(key); ok {
		return v.date, v.ts
	}
	date, ts := NormalizeDate(key)
	n.memo.Add(key, normalizedDate{date: date, ts: ts})
	return date, ts
}
