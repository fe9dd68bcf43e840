// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required sink credentials, use ValidateSinkReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Pipeline
	ProviderOrder       []string
	ProviderTimeout     time.Duration
	MetadataTimeout     time.Duration
	FetchTimeout        time.Duration
	FetchMinBytes       int64
	FetchMaxBytes       int64
	MaxFallbackAttempts int
	MaxConcurrentFetch  int
	MaxInflightRequests int

	// Sink (chat file-upload endpoint)
	SinkBaseURL  string
	SinkToken    string
	SinkChatID   string
	SinkMaxBytes int64

	// Catalog provider (OAuth2 client credentials)
	CatalogBaseURL      string
	CatalogTokenURL     string
	CatalogClientID     string
	CatalogClientSecret string

	// Storage
	DataDir string
}

// Load reads environment variables and applies defaults. It doesn't fail if sink creds are
// missing; use ValidateSinkReady() when you require delivery. A missing catalog client id
// simply disables the catalog provider.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ProviderOrder = splitList(os.Getenv("PROVIDER_ORDER"))
	if len(cfg.ProviderOrder) == 0 {
		// Priority tuned by expected audio fidelity: direct link first, then
		// resolved platform streams, then the licensed catalog, page scrape last.
		cfg.ProviderOrder = []string{"direct", "youtube", "catalog", "scrape"}
	}

	cfg.ProviderTimeout = envDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.MetadataTimeout = envDuration("METADATA_TIMEOUT", 5*time.Second)
	cfg.FetchTimeout = envDuration("FETCH_TIMEOUT", 5*time.Minute)

	cfg.FetchMinBytes = envInt64("FETCH_MIN_BYTES", 10*1024)
	cfg.FetchMaxBytes = envInt64("FETCH_MAX_BYTES", 50*1024*1024)
	if cfg.FetchMinBytes >= cfg.FetchMaxBytes {
		return nil, fmt.Errorf("FETCH_MIN_BYTES (%d) must be below FETCH_MAX_BYTES (%d)", cfg.FetchMinBytes, cfg.FetchMaxBytes)
	}

	cfg.MaxFallbackAttempts = envInt("MAX_FALLBACK_ATTEMPTS", 3)
	cfg.MaxConcurrentFetch = envInt("MAX_CONCURRENT_FETCHES", 2)
	cfg.MaxInflightRequests = envInt("MAX_INFLIGHT_REQUESTS", 8)

	// Sink
	cfg.SinkBaseURL = os.Getenv("SINK_BASE_URL")
	if cfg.SinkBaseURL == "" {
		cfg.SinkBaseURL = "https://api.telegram.org"
	}
	cfg.SinkToken = os.Getenv("SINK_BOT_TOKEN")
	cfg.SinkChatID = os.Getenv("SINK_CHAT_ID")
	cfg.SinkMaxBytes = envInt64("SINK_MAX_BYTES", cfg.FetchMaxBytes)
	if cfg.SinkMaxBytes > cfg.FetchMaxBytes {
		// The sink must never admit more than the fetch ceiling allows through.
		cfg.SinkMaxBytes = cfg.FetchMaxBytes
	}

	// Catalog
	cfg.CatalogBaseURL = os.Getenv("CATALOG_BASE_URL")
	cfg.CatalogTokenURL = os.Getenv("CATALOG_TOKEN_URL")
	cfg.CatalogClientID = os.Getenv("CATALOG_CLIENT_ID")
	cfg.CatalogClientSecret = os.Getenv("CATALOG_CLIENT_SECRET")
	if cfg.CatalogTokenURL == "" && cfg.CatalogBaseURL != "" {
		cfg.CatalogTokenURL = strings.TrimRight(cfg.CatalogBaseURL, "/") + "/oauth/token"
	}

	// Storage
	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	return cfg, nil
}

// ValidateSinkReady checks required fields when delivery is enabled.
func (c *Config) ValidateSinkReady() error {
	if c.SinkToken == "" || c.SinkChatID == "" {
		return fmt.Errorf("missing sink env: require SINK_BOT_TOKEN, SINK_CHAT_ID")
	}
	return nil
}

// CatalogEnabled reports whether the catalog provider has usable credentials.
func (c *Config) CatalogEnabled() bool {
	return c.CatalogBaseURL != "" && c.CatalogClientID != "" && c.CatalogClientSecret != ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}
