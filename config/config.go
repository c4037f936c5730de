package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrFeedNotConfigured is reported per request when the read-shelf feed URL
// is missing. It never stops the process from starting.
var ErrFeedNotConfigured = errors.New("GOODREADS_READ_RSS not configured")

// Config holds service configuration.
type Config struct {
	ReadFeedURL     string        `yaml:"read_feed_url"`
	UpdatesFeedURL  string        `yaml:"updates_feed_url"`
	Addr            string        `yaml:"addr"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	FetchLimit      int           `yaml:"fetch_limit"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	UserAgent       string        `yaml:"user_agent"`
	Accept          string        `yaml:"accept"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	DateMemoSize    int           `yaml:"date_memo_size"`
	Verbose         bool          `yaml:"verbose"`
}

// DefaultConfig returns defaults matching the upstream's tolerance.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		CacheTTL:        15 * time.Minute,
		FetchLimit:      200,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		RequestsPerSec:  2,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Accept:          "application/rss+xml, application/xml;q=0.9, */*;q=0.8",
		CORSOrigins:     []string{"*"},
		DateMemoSize:    1024,
		Verbose:         false,
	}
}

// Validate ensures all configuration values are coherent. Feed URLs are
// optional here; a missing read feed is surfaced per request instead.
func (c *Config) Validate() error {
	if err := validateFeedURL("read feed URL", c.ReadFeedURL); err != nil {
		return err
	}
	if err := validateFeedURL("updates feed URL", c.UpdatesFeedURL); err != nil {
		return err
	}
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.FetchLimit <= 0 {
		return fmt.Errorf("fetch limit must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestsPerSec <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DateMemoSize < 0 {
		return fmt.Errorf("date memo size cannot be negative")
	}
	return nil
}

func validateFeedURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s must be http or https", name)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// Load layers the optional YAML file at path and then the environment over
// the defaults. Flags are applied by the caller.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays a YAML file onto c. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("GOODREADS_READ_RSS"); ok {
		c.ReadFeedURL = v
	}
	if v, ok := EnvString("GOODREADS_UPDATES_RSS"); ok {
		c.UpdatesFeedURL = v
	}
	if v, ok := EnvString("SHELF_ADDR"); ok {
		c.Addr = v
	}
	if v, ok, err := EnvDuration("SHELF_CACHE_TTL"); err != nil {
		return err
	} else if ok {
		c.CacheTTL = v
	}
	if v, ok, err := EnvInt("SHELF_FETCH_LIMIT"); err != nil {
		return err
	} else if ok {
		c.FetchLimit = v
	}
	if v, ok, err := EnvDuration("SHELF_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = v
	}
	if v, ok, err := EnvInt("SHELF_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		c.MaxRetries = v
	}
	if v, ok := EnvString("SHELF_CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok, err := EnvBool("SHELF_VERBOSE"); err != nil {
		return err
	} else if ok {
		c.Verbose = v
	}
	return nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses a duration environment value such as "15m".
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
