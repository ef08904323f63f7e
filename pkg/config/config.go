// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Upstream site
	UpstreamBaseURL       string
	UpstreamAPITemplate   string // {id} is replaced with the video id
	UpstreamEmbedTemplate string // {id} is replaced with the video id

	// Relay settings (third-party CORS intermediaries for the upstream API)
	RelayEndpoints []string
	RelayTimeout   time.Duration

	// Extraction settings
	ExtractTimeout     time.Duration
	ExtractMaxRetries  int
	BrowserEnabled     bool
	BrowserPageKinds   []string // listing, search, channel, model, detail
	BrowserWaitTimeout time.Duration

	// Cache TTLs; listings go stale fast, resolved streams are costly to refresh
	ListingTTL time.Duration
	StreamTTL  time.Duration

	// Refresh policy
	FreshnessWindow    time.Duration
	MaxRefreshAttempts int

	// Manifest/segment proxy
	ProxyFetchTimeout time.Duration

	// Persisted source state
	DataDir          string
	MaxTrackedVideos int

	// Playback sessions
	SessionIdleTimeout time.Duration

	// Outbound transport
	GlobalProxies      []string
	FingerprintDomains []string

	// Logging
	LogLevel string
	LogJSON  bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	port := getEnvInt("PORT", 8080)
	upstream := getEnvString("UPSTREAM_BASE_URL", "https://video-source.example.com")

	return &Config{
		Port:         port,
		BaseURL:      getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:  getEnvDuration("IDLE_TIMEOUT", 60*time.Second),

		APIPassword: os.Getenv("API_PASSWORD"),

		UpstreamBaseURL:       upstream,
		UpstreamAPITemplate:   getEnvString("UPSTREAM_API_TEMPLATE", upstream+"/api/video/{id}"),
		UpstreamEmbedTemplate: getEnvString("UPSTREAM_EMBED_TEMPLATE", upstream+"/embed/{id}"),

		RelayEndpoints: getEnvStringSlice("RELAY_ENDPOINTS", []string{
			"https://api.allorigins.win/raw?url=",
			"https://corsproxy.io/?",
			"https://api.codetabs.com/v1/proxy?quest=",
		}),
		RelayTimeout: getEnvDuration("RELAY_TIMEOUT", 8*time.Second),

		ExtractTimeout:     getEnvDuration("EXTRACT_TIMEOUT", 20*time.Second),
		ExtractMaxRetries:  getEnvInt("EXTRACT_MAX_RETRIES", 2),
		BrowserEnabled:     getEnvBool("BROWSER_ENABLED", false),
		BrowserPageKinds:   getEnvStringSlice("BROWSER_PAGE_KINDS", nil),
		BrowserWaitTimeout: getEnvDuration("BROWSER_WAIT_TIMEOUT", 10*time.Second),

		ListingTTL: getEnvDuration("LISTING_TTL", 5*time.Minute),
		StreamTTL:  getEnvDuration("STREAM_TTL", 6*time.Hour),

		FreshnessWindow:    getEnvDuration("FRESHNESS_WINDOW", 4*time.Hour),
		MaxRefreshAttempts: getEnvInt("MAX_REFRESH_ATTEMPTS", 2),

		ProxyFetchTimeout: getEnvDuration("PROXY_FETCH_TIMEOUT", 60*time.Second),

		DataDir:          getEnvString("DATA_DIR", "data"),
		MaxTrackedVideos: getEnvInt("MAX_TRACKED_VIDEOS", 1000),

		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		GlobalProxies:      getEnvStringSlice("GLOBAL_PROXIES", nil),
		FingerprintDomains: getEnvStringSlice("FINGERPRINT_DOMAINS", nil),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", false),
	}
}

// APIURL returns the upstream metadata API URL for a video id.
func (c *Config) APIURL(videoID string) string {
	return strings.ReplaceAll(c.UpstreamAPITemplate, "{id}", videoID)
}

// EmbedURL returns the iframe-embeddable upstream URL for a video id.
func (c *Config) EmbedURL(videoID string) string {
	return strings.ReplaceAll(c.UpstreamEmbedTemplate, "{id}", videoID)
}

// BrowserKind reports whether the given page kind should use the
// browser-automation extraction strategy.
func (c *Config) BrowserKind(kind string) bool {
	if !c.BrowserEnabled {
		return false
	}
	for _, k := range c.BrowserPageKinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
