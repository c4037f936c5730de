package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShelfQuery(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantLimit   int
		wantNoCache bool
		wantErr     string
	}{
		{name: "empty", query: ""},
		{name: "limit", query: "limit=5", wantLimit: 5},
		{name: "limit with spaces", query: "limit=%205%20", wantLimit: 5},
		{name: "nocache any value", query: "nocache=0", wantNoCache: true},
		{name: "nocache and limit", query: "nocache=1&limit=2", wantLimit: 2, wantNoCache: true},
		{name: "empty nocache ignored", query: "nocache=", wantNoCache: false},
		{name: "zero limit", query: "limit=0", wantErr: "limit must be greater than 0"},
		{name: "negative limit", query: "limit=-1", wantErr: "limit must be greater than 0"},
		{name: "non numeric limit", query: "limit=ten", wantErr: "positive integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			q, err := parseShelfQuery(values)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, q.limit())
			assert.Equal(t, tt.wantNoCache, q.NoCache)
		})
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.get("/")
	generated := rec.Header().Get(requestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec2 := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec2, req)
	assert.Equal(t, "abc-123", rec2.Header().Get(requestIDHeader))
}
