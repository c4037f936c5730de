package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero fetch limit",
			mutate: func(cfg *Config) {
				cfg.FetchLimit = 0
			},
			wantErr: "fetch limit",
		},
		{
			name: "feed url without host",
			mutate: func(cfg *Config) {
				cfg.ReadFeedURL = "http://"
			},
			wantErr: "read feed URL",
		},
		{
			name: "feed url wrong scheme",
			mutate: func(cfg *Config) {
				cfg.UpdatesFeedURL = "ftp://example.test/feed"
			},
			wantErr: "updates feed URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative ttl",
			mutate: func(cfg *Config) {
				cfg.CacheTTL = -time.Minute
			},
			wantErr: "cache ttl",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "zero rate",
			mutate: func(cfg *Config) {
				cfg.RequestsPerSec = 0
			},
			wantErr: "requests per second",
		},
		{
			name: "empty user agent",
			mutate: func(cfg *Config) {
				cfg.UserAgent = ""
			},
			wantErr: "user agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.ReadFeedURL != "" {
		t.Fatalf("default read feed should be empty, got %q", cfg.ReadFeedURL)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GOODREADS_READ_RSS", "https://www.goodreads.com/review/list_rss/1?shelf=read")
	t.Setenv("GOODREADS_UPDATES_RSS", " ")
	t.Setenv("SHELF_CACHE_TTL", "5m")
	t.Setenv("SHELF_FETCH_LIMIT", "50")
	t.Setenv("SHELF_CORS_ORIGINS", "https://a.test, https://b.test,")
	t.Setenv("SHELF_VERBOSE", "true")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}

	if cfg.ReadFeedURL != "https://www.goodreads.com/review/list_rss/1?shelf=read" {
		t.Fatalf("read feed = %q", cfg.ReadFeedURL)
	}
	if cfg.UpdatesFeedURL != "" {
		t.Fatalf("blank env should not set updates feed, got %q", cfg.UpdatesFeedURL)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.FetchLimit != 50 || !cfg.Verbose {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.test" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("SHELF_FETCH_LIMIT", "lots")
	if err := DefaultConfig().ApplyEnv(); err == nil || !strings.Contains(err.Error(), "SHELF_FETCH_LIMIT") {
		t.Fatalf("expected SHELF_FETCH_LIMIT error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelf.yaml")
	content := "read_feed_url: https://example.test/read.rss\ncache_ttl: 90s\nfetch_limit: 20\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.ReadFeedURL != "https://example.test/read.rss" || cfg.CacheTTL != 90*time.Second || cfg.FetchLimit != 20 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Timeout != DefaultConfig().Timeout {
		t.Fatalf("absent key should keep default timeout, got %v", cfg.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelf.yaml")
	content := "read_feed_url: https://example.test/file.rss\naddr: \":9000\"\nfetch_limit: 20\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GOODREADS_READ_RSS", "https://example.test/env.rss")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReadFeedURL != "https://example.test/env.rss" {
		t.Fatalf("env should win over file, got %q", cfg.ReadFeedURL)
	}
	if cfg.Addr != ":9000" || cfg.FetchLimit != 20 {
		t.Fatalf("file values lost: addr=%q limit=%d", cfg.Addr, cfg.FetchLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
