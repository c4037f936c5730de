// Package models defines data structures shared by the shelf service.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// BookRecord is one normalised shelf entry.
type BookRecord struct {
	Title      string `csv:"title" json:"title"`
	Author     string `csv:"author" json:"author"`
	FinishedAt string `csv:"finished_at" json:"finished_at"`
	FinishedTS int64  `csv:"finished_ts" json:"finished_ts"`
	Rating     Rating `csv:"rating" json:"rating"`
	Review     string `csv:"review" json:"review"`
	Link       string `csv:"link" json:"link"`
}

// Rating is the reader's own star rating. Zero means unrated and is
// rendered as an empty string on the wire.
type Rating int

// Valid reports whether r is a real 1-5 rating.
func (r Rating) Valid() bool {
	return r >= 1 && r <= 5
}

func (r Rating) String() string {
	if !r.Valid() {
		return ""
	}
	return strconv.Itoa(int(r))
}

func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Itoa(int(r))), nil
}

func (r *Rating) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte(`""`)) || bytes.Equal(data, []byte("null")) {
		*r = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		var s string
		if jsonErr := json.Unmarshal(data, &s); jsonErr != nil {
			return fmt.Errorf("rating: %w", err)
		}
		if n, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("rating: %w", err)
		}
	}
	*r = Rating(n)
	if !r.Valid() {
		*r = 0
	}
	return nil
}

// RawFeed is the unparsed result of one upstream fetch.
type RawFeed struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}
