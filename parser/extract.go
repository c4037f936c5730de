// Package parser turns the label:value text of a shelf feed entry into a
// normalised book record.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Entry holds structured attributes a feed item carries outside its
// description, keyed by lower-case element name.
type Entry map[string]any

// Tier orders finished-date candidates. Lower tiers always win.
type Tier int

const (
	TierReadText Tier = iota + 1
	TierReadEntry
	TierFallbackText
	TierFallbackEntry
)

func (t Tier) String() string {
	switch t {
	case TierReadText:
		return "read_text"
	case TierReadEntry:
		return "read_entry"
	case TierFallbackText:
		return "fallback_text"
	case TierFallbackEntry:
		return "fallback_entry"
	default:
		return "unknown"
	}
}

// DateCandidate is one raw date found for the finished date.
type DateCandidate struct {
	Tier  Tier
	Label string
	Raw   string
}

// Fields is what Extract found. Missing fields are zero values.
type Fields struct {
	Author             string
	Rating             int
	RatingFound        bool
	Review             string
	FinishedCandidates []DateCandidate
}

// Label sets in priority order. The generic "rating" label is absent on
// purpose: upstream uses it for the average rating of the work.
var (
	authorLabels = []string{"author_name", "author"}
	ratingLabels = []string{"user_rating"}
	reviewLabels = []string{"user_review", "review"}

	readLabels = []string{"read_at", "date_read", "user_read_at"}
	readKeys   = []string{"user_read_at", "read_at", "date_read", "gr_read_at", "gr_date_read", "user_date_read"}

	fallbackLabels = []string{"user_date_updated", "date_updated", "user_date_added", "date_added", "pubdate", "published"}
)

var (
	labelPatterns = compileLabels(authorLabels, ratingLabels, reviewLabels, readLabels, fallbackLabels)

	labelLine    = regexp.MustCompile(`^[A-Za-z][A-Za-z _-]{0,40}:(\s|$)`)
	leadingStar  = regexp.MustCompile(`^([0-5])\b`)
	isolatedStar = regexp.MustCompile(`\b([0-5])\b`)
)

func compileLabels(sets ...[]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, set := range sets {
		for _, label := range set {
			if _, ok := out[label]; ok {
				continue
			}
			parts := strings.Split(label, "_")
			for i, part := range parts {
				parts[i] = regexp.QuoteMeta(part)
			}
			out[label] = regexp.MustCompile(`(?im)^[ \t]*` + strings.Join(parts, `[ \t_-]*`) + `[ \t]*:[ \t]*(.*)$`)
		}
	}
	return out
}

// Extract scans text for each field's labels in priority order and falls
// back to the structured entry when no label matches.
func Extract(text string, entry Entry) Fields {
	var f Fields

	f.Author = firstLineValue(text, authorLabels)
	if f.Author == "" {
		f.Author = firstEntryValue(entry, authorLabels)
	}

	f.Rating, f.RatingFound = textRating(text)
	if !f.RatingFound {
		f.Rating, f.RatingFound = entryRating(entry)
	}

	f.Review = firstBlockValue(text, reviewLabels)
	if f.Review == "" {
		f.Review = firstEntryValue(entry, reviewLabels)
	}

	f.FinishedCandidates = finishedCandidates(text, entry)
	return f
}

func finishedCandidates(text string, entry Entry) []DateCandidate {
	var out []DateCandidate
	for _, label := range readLabels {
		if v, ok := lineValue(text, label); ok {
			out = append(out, DateCandidate{Tier: TierReadText, Label: label, Raw: v})
		}
	}
	for _, key := range readKeys {
		if v := entryString(entry, key); v != "" {
			out = append(out, DateCandidate{Tier: TierReadEntry, Label: key, Raw: v})
		}
	}
	for _, label := range fallbackLabels {
		if v, ok := lineValue(text, label); ok {
			out = append(out, DateCandidate{Tier: TierFallbackText, Label: label, Raw: v})
		}
	}
	for _, key := range fallbackLabels {
		if v := entryString(entry, key); v != "" {
			out = append(out, DateCandidate{Tier: TierFallbackEntry, Label: key, Raw: v})
		}
	}
	return out
}

// lineValue returns the value of the first "label: value" line. An empty
// value on the label line is taken from the next line unless that line is
// itself a label.
func lineValue(text, label string) (string, bool) {
	re, ok := labelPatterns[label]
	if !ok || text == "" {
		return "", false
	}
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}
	if value := strings.TrimSpace(text[loc[2]:loc[3]]); value != "" {
		return value, true
	}

	rest := strings.TrimPrefix(text[loc[1]:], "\n")
	next, _, _ := strings.Cut(rest, "\n")
	next = strings.TrimSpace(next)
	if next == "" || labelLine.MatchString(next) {
		return "", false
	}
	return next, true
}

// blockValue returns everything after the label up to the end of text.
func blockValue(text, label string) (string, bool) {
	re, ok := labelPatterns[label]
	if !ok || text == "" {
		return "", false
	}
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}
	value := strings.TrimSpace(text[loc[2]:])
	return value, value != ""
}

func firstLineValue(text string, labels []string) string {
	for _, label := range labels {
		if v, ok := lineValue(text, label); ok {
			return v
		}
	}
	return ""
}

func firstBlockValue(text string, labels []string) string {
	for _, label := range labels {
		if v, ok := blockValue(text, label); ok {
			return v
		}
	}
	return ""
}

func firstEntryValue(entry Entry, keys []string) string {
	for _, key := range keys {
		if v := entryString(entry, key); v != "" {
			return v
		}
	}
	return ""
}

func textRating(text string) (int, bool) {
	for _, label := range ratingLabels {
		v, ok := lineValue(text, label)
		if !ok {
			continue
		}
		if m := leadingStar.FindStringSubmatch(v); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n, true
		}
	}
	return 0, false
}

// entryRating checks every structured key naming a user rating. Numbers in
// [0,5] are taken as-is; strings are scanned for a lone 0-5 digit.
func entryRating(entry Entry) (int, bool) {
	keys := make([]string, 0, len(entry))
	for key := range entry {
		if strings.Contains(key, "user") && strings.Contains(key, "rating") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := entry[key]
		if n, ok := numeric(v); ok {
			if n >= 0 && n <= 5 {
				return int(n), true
			}
			continue
		}
		if v == nil {
			continue
		}
		if m := isolatedStar.FindStringSubmatch(fmt.Sprint(v)); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n, true
		}
	}
	return 0, false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func entryString(entry Entry, key string) string {
	v, ok := entry[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
