package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the session agent.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	CDPTimeoutMS int

	// HTTP listener
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	LogLevel string
	LogFile  string

	// Target site. SiteFile, when present, overrides the env values.
	SiteFile        string
	SiteURL         string
	SiteDomain      string
	SiteHosts       []string
	SessionEndpoint string
	CSRFCookie      string
	AuthCookie      string
	CSRFHeader      string

	// Fetch and tab timing
	FetchTimeoutMS    int
	MaxRetries        int
	RetryBaseDelayMS  int
	TabLoadTimeoutMS  int
	TabPollIntervalMS int
	CacheTTLSec       int

	// Managed browser
	LaunchBrowser     bool
	BrowserProfileDir string
	BrowserPath       string

	NotifyEndpoint string
}

// Load reads configuration from environment variables and optional .env file,
// then applies the site file if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		CDPTimeoutMS:      getEnvIntOrDefault("AGENT_CDP_TIMEOUT_MS", 5000),
		BindAddr:          getEnvOrDefault("AGENT_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    getEnvListOrDefault("AGENT_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:  getEnvBoolOrDefault("AGENT_PORT_AUTO_FALLBACK", true),
		LogLevel:          strings.ToLower(getEnvOrDefault("AGENT_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("AGENT_LOG_FILE", "logs/session_agent.log"),
		SiteFile:          getEnvOrDefault("AGENT_SITE_FILE", "./config/site.yaml"),
		SiteURL:           getEnvOrDefault("AGENT_SITE_URL", "https://app.outlier.ai/"),
		SiteDomain:        getEnvOrDefault("AGENT_SITE_DOMAIN", "outlier.ai"),
		SiteHosts:         getEnvListOrDefault("AGENT_SITE_HOSTS", []string{"app.outlier.ai", "www.app.outlier.ai"}),
		SessionEndpoint:   getEnvOrDefault("AGENT_SESSION_ENDPOINT", "https://app.outlier.ai/internal/logged_in_user"),
		CSRFCookie:        getEnvOrDefault("AGENT_CSRF_COOKIE", "_csrf"),
		AuthCookie:        getEnvOrDefault("AGENT_AUTH_COOKIE", "_jwt"),
		CSRFHeader:        getEnvOrDefault("AGENT_CSRF_HEADER", "x-csrf-token"),
		FetchTimeoutMS:    getEnvIntOrDefault("AGENT_FETCH_TIMEOUT_MS", 10000),
		MaxRetries:        getEnvIntOrDefault("AGENT_MAX_RETRIES", 2),
		RetryBaseDelayMS:  getEnvIntOrDefault("AGENT_RETRY_BASE_DELAY_MS", 1000),
		TabLoadTimeoutMS:  getEnvIntOrDefault("AGENT_TAB_LOAD_TIMEOUT_MS", 15000),
		TabPollIntervalMS: getEnvIntOrDefault("AGENT_TAB_POLL_INTERVAL_MS", 200),
		CacheTTLSec:       getEnvIntOrDefault("AGENT_CACHE_TTL_SEC", 300),
		LaunchBrowser:     getEnvBoolOrDefault("AGENT_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("AGENT_BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserPath:       getEnvOrDefault("AGENT_BROWSER_PATH", ""),
		NotifyEndpoint:    getEnvOrDefault("AGENT_NOTIFY_ENDPOINT", ""),
	}
	if cfg.CDPTimeoutMS < 1000 {
		cfg.CDPTimeoutMS = 1000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TabPollIntervalMS < 10 {
		cfg.TabPollIntervalMS = 10
	}

	site, err := LoadSiteFile(cfg.SiteFile)
	switch {
	case err == nil:
		site.apply(cfg)
		slog.Debug("site file applied", "path", cfg.SiteFile, "url", cfg.SiteURL)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if cfg.SiteURL == "" || cfg.SiteDomain == "" || cfg.SessionEndpoint == "" {
		return nil, fmt.Errorf("config: site url, domain and session endpoint are required")
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) CDPTimeout() time.Duration {
	return time.Duration(c.CDPTimeoutMS) * time.Millisecond
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

func (c *Config) TabLoadTimeout() time.Duration {
	return time.Duration(c.TabLoadTimeoutMS) * time.Millisecond
}

func (c *Config) TabPollInterval() time.Duration {
	return time.Duration(c.TabPollIntervalMS) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return splitList(val)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
