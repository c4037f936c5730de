package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/shelf-feed/models"
	"golang.org/x/text/unicode/norm"
)

// Builder assembles BookRecords from feed entries.
type Builder struct {
	dates *Normalizer
}

// NewBuilder returns a Builder. dates may be nil.
func NewBuilder(dates *Normalizer) *Builder {
	return &Builder{dates: dates}
}

// Build combines entry metadata with the fields extracted from its text.
// Text fields are NFC-normalised so composed and decomposed accents compare
// equal downstream.
func (b *Builder) Build(title, link, text string, entry Entry) models.BookRecord {
	fields := Extract(text, entry)

	title, embeddedAuthor := SplitTitleAuthor(strings.TrimSpace(title))
	author := fields.Author
	if author == "" {
		author = embeddedAuthor
	}

	finishedAt, finishedTS := b.finished(fields.FinishedCandidates)

	return models.BookRecord{
		Title:      norm.NFC.String(title),
		Author:     norm.NFC.String(author),
		FinishedAt: finishedAt,
		FinishedTS: finishedTS,
		Rating:     CollapseRating(fields.Rating, fields.RatingFound),
		Review:     norm.NFC.String(fields.Review),
		Link:       link,
	}
}

// finished walks the candidates in tier order and keeps the first that
// parses. A later tier is never consulted while an earlier one parses.
func (b *Builder) finished(candidates []DateCandidate) (string, int64) {
	for _, c := range candidates {
		if date, ts := b.dates.Normalize(c.Raw); date != "" {
			return date, ts
		}
	}
	return "", 0
}

// SplitTitleAuthor splits "Title by Author" on the first " by ". Titles
// that would be left empty are returned unchanged.
func SplitTitleAuthor(title string) (string, string) {
	before, after, ok := strings.Cut(title, " by ")
	if !ok {
		return title, ""
	}
	before = strings.TrimSpace(before)
	if before == "" {
		return title, ""
	}
	return before, strings.TrimSpace(after)
}

// CollapseRating maps a detected rating onto the 1-5 scale. Zero and
// out-of-range values mean unrated; nothing is clamped.
func CollapseRating(n int, found bool) models.Rating {
	if !found {
		return 0
	}
	r := models.Rating(n)
	if !r.Valid() {
		return 0
	}
	return r
}

// ValidateRecord ensures a record satisfies the record invariants.
func ValidateRecord(r *models.BookRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record missing title (link %q)", r.Link)
	}
	if r.Rating != 0 && !r.Rating.Valid() {
		return fmt.Errorf("record %q has rating %d outside 1-5", r.Title, int(r.Rating))
	}
	if r.FinishedTS < 0 {
		return fmt.Errorf("record %q has negative finished timestamp", r.Title)
	}
	if (r.FinishedAt == "") != (r.FinishedTS == 0) {
		return fmt.Errorf("record %q has finished date %q with timestamp %d", r.Title, r.FinishedAt, r.FinishedTS)
	}
	return nil
}
