package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/shelf-feed/cache"
	"github.com/aluiziolira/shelf-feed/config"
	"github.com/aluiziolira/shelf-feed/scraper"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	readURL    = "http://example.test/review/list_rss/1"
	updatesURL = "http://example.test/user/updates_rss/1"
)

const readFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>bookshelf: read</title>
  <item>
    <title><![CDATA[Piranesi by Susanna Clarke]]></title>
    <link><![CDATA[https://www.goodreads.com/review/show/2]]></link>
    <description><![CDATA[user_rating: 0<br/>read at: 2024/12/01<br/>review:]]></description>
  </item>
  <item>
    <title><![CDATA[Beowulf]]></title>
    <link><![CDATA[https://www.goodreads.com/review/show/3]]></link>
    <description><![CDATA[shelves: read]]></description>
  </item>
  <item>
    <title><![CDATA[The Road]]></title>
    <link><![CDATA[https://www.goodreads.com/review/show/1]]></link>
    <description><![CDATA[author: Cormac McCarthy<br/>user_rating: 5<br/>read at: 2025/04/16<br/>review: Bleak.]]></description>
  </item>
</channel>
</rss>`

const updatesFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>updates</title>
  <item>
    <title><![CDATA[Dune]]></title>
    <link><![CDATA[https://www.goodreads.com/review/show/9]]></link>
    <description><![CDATA[author: Frank Herbert<br/>date added: 2025/05/02]]></description>
  </item>
</channel>
</rss>`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type testServer struct {
	srv       *Server
	transport *httpmock.MockTransport
	clock     *fakeClock
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.ReadFeedURL = readURL
	cfg.MaxRetries = 0
	cfg.RequestsPerSec = 1000
	cfg.CacheTTL = time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	s, err := scraper.NewScraper(cfg)
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	s.WithTransport(transport)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testServer{
		srv:       NewServer(cfg, s, logger, cache.WithClock(clock.Now)),
		transport: transport,
		clock:     clock,
	}
}

func (ts *testServer) respond(url string, status int, body string) {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/rss+xml; charset=utf-8")
	ts.transport.RegisterResponder(http.MethodGet, url, httpmock.ResponderFromResponse(resp))
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

type shelfBody struct {
	Items []struct {
		Title      string `json:"title"`
		Author     string `json:"author"`
		FinishedAt string `json:"finished_at"`
		FinishedTS int64  `json:"finished_ts"`
		Rating     any    `json:"rating"`
		Review     string `json:"review"`
		Link       string `json:"link"`
	} `json:"items"`
	Warning string `json:"warning"`
}

func decodeShelf(t *testing.T, rec *httptest.ResponseRecorder) shelfBody {
	t.Helper()
	var body shelfBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.get("/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFinished_NotConfigured(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.ReadFeedURL = "" })

	rec := ts.get("/books/finished")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "GOODREADS_READ_RSS not configured", decodeError(t, rec).Error)
	assert.Zero(t, ts.transport.GetTotalCallCount())
}

func TestFinished_SortedNewestFirst(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	rec := ts.get("/books/finished")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	body := decodeShelf(t, rec)
	require.Len(t, body.Items, 3)
	assert.Equal(t, "The Road", body.Items[0].Title)
	assert.Equal(t, "2025-04-16", body.Items[0].FinishedAt)
	assert.EqualValues(t, 5, body.Items[0].Rating)
	assert.Equal(t, "Piranesi", body.Items[1].Title)
	assert.Equal(t, "Susanna Clarke", body.Items[1].Author)
	assert.Equal(t, "", body.Items[1].Rating)
	assert.Equal(t, "Beowulf", body.Items[2].Title)
	assert.Zero(t, body.Items[2].FinishedTS)
	assert.Empty(t, body.Warning)
}

func TestFinished_CachedWithinTTL(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	first := ts.get("/books/finished")
	ts.clock.Advance(30 * time.Second)
	second := ts.get("/books/finished/")

	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, ts.transport.GetTotalCallCount())
}

func TestFinished_NoCacheForcesRefresh(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	ts.get("/books/finished")
	rec := ts.get("/books/finished?nocache=1")

	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, ts.transport.GetTotalCallCount())
}

func TestInvalidateRefetches(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	ts.get("/books/finished")
	ts.srv.Invalidate()
	rec := ts.get("/books/finished")

	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, ts.transport.GetTotalCallCount())

	ts.respond(readURL, http.StatusServiceUnavailable, "down")
	ts.srv.Invalidate()
	stale := ts.get("/books/finished")

	assert.Equal(t, http.StatusOK, stale.Code)
	assert.Equal(t, "STALE", stale.Header().Get("X-Cache"))
	assert.Len(t, decodeShelf(t, stale).Items, 3)
}

func TestFinished_ExpiredRefreshes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	ts.get("/books/finished")
	ts.clock.Advance(2 * time.Minute)
	rec := ts.get("/books/finished")

	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, ts.transport.GetTotalCallCount())
}

func TestFinished_Limit(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantItems  int
	}{
		{name: "trims sorted list", query: "?limit=1", wantStatus: http.StatusOK, wantItems: 1},
		{name: "larger than shelf", query: "?limit=50", wantStatus: http.StatusOK, wantItems: 3},
		{name: "not a number", query: "?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "zero", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "negative", query: "?limit=-2", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.respond(readURL, http.StatusOK, readFeed)

			rec := ts.get("/books/finished" + tt.query)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, decodeError(t, rec).Error, "limit")
				return
			}
			body := decodeShelf(t, rec)
			assert.Len(t, body.Items, tt.wantItems)
			assert.Equal(t, "The Road", body.Items[0].Title)
		})
	}
}

func TestFinished_StaleOnRefreshFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)
	ts.get("/books/finished")

	ts.respond(readURL, http.StatusServiceUnavailable, "down")
	ts.clock.Advance(5 * time.Minute)
	rec := ts.get("/books/finished")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STALE", rec.Header().Get("X-Cache"))
	body := decodeShelf(t, rec)
	assert.Len(t, body.Items, 3)
	assert.Contains(t, body.Warning, "refresh failed")
}

func TestFinished_UpstreamStatusWithoutData(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusServiceUnavailable, "down")

	rec := ts.get("/books/finished")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, http.StatusServiceUnavailable, body.UpstreamStatus)
	assert.NotEmpty(t, body.Error)
}

func TestFinished_NetworkFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.transport.RegisterResponder(http.MethodGet, readURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	rec := ts.get("/books/finished")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Zero(t, body.UpstreamStatus)
	assert.Contains(t, body.Error, "connection reset")
}

func TestFinished_EmptyShelf(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title></channel></rss>`)

	rec := ts.get("/books/finished")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestFinishedRaw(t *testing.T) {
	long := readFeed + strings.Repeat("é", 3000)

	tests := []struct {
		name        string
		status      int
		body        string
		wantSnippet string
	}{
		{name: "short document", status: http.StatusOK, body: readFeed, wantSnippet: readFeed},
		{name: "truncated on characters", status: http.StatusOK, body: long, wantSnippet: string([]rune(long)[:2000])},
		{name: "upstream error status", status: http.StatusNotFound, body: "gone", wantSnippet: "gone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.respond(readURL, tt.status, tt.body)

			rec := ts.get("/books/finished/raw")

			require.Equal(t, http.StatusOK, rec.Code)
			var body RawResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, len(tt.body), body.Len)
			assert.Equal(t, tt.wantSnippet, body.Snippet)
		})
	}
}

func TestFinishedRaw_BypassesCache(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	ts.get("/books/finished")
	ts.get("/books/finished/raw")

	assert.Equal(t, 2, ts.transport.GetTotalCallCount())
}

func TestFinishedRaw_NetworkFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.transport.RegisterResponder(http.MethodGet, readURL, httpmock.NewErrorResponder(errors.New("no route to host")))

	rec := ts.get("/books/finished/raw")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "no route to host")
}

func TestUpdates(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := ts.get("/books/updates")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decodeError(t, rec).Error, "GOODREADS_UPDATES_RSS")
	})

	t.Run("own cache slot", func(t *testing.T) {
		ts := newTestServer(t, func(cfg *config.Config) { cfg.UpdatesFeedURL = updatesURL })
		ts.respond(readURL, http.StatusOK, readFeed)
		ts.respond(updatesURL, http.StatusOK, updatesFeed)

		finished := ts.get("/books/finished")
		updates := ts.get("/books/updates")

		assert.Equal(t, "MISS", finished.Header().Get("X-Cache"))
		assert.Equal(t, "MISS", updates.Header().Get("X-Cache"))
		body := decodeShelf(t, updates)
		require.Len(t, body.Items, 1)
		assert.Equal(t, "Dune", body.Items[0].Title)
		assert.Equal(t, "Frank Herbert", body.Items[0].Author)
		assert.Equal(t, "2025-05-02", body.Items[0].FinishedAt)
	})
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)
	ts.get("/books/finished")
	ts.get("/books/finished")

	rec := ts.get("/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shelf_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, rec.Body.String(), "shelf_items_parsed_total 3")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.respond(readURL, http.StatusOK, readFeed)

	req := httptest.NewRequest(http.MethodOptions, "/books/finished", nil)
	req.Header.Set("Origin", "https://reader.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, ts.transport.GetTotalCallCount())

	req = httptest.NewRequest(http.MethodGet, "/books/finished", nil)
	req.Header.Set("Origin", "https://reader.example")
	rec = httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "", snippet(nil, 5))
	assert.Equal(t, "abc", snippet([]byte("abc"), 5))
	assert.Equal(t, "ab", snippet([]byte("abc"), 2))
	assert.Equal(t, "éé", snippet([]byte("ééé"), 2))
}
