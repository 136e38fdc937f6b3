// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// DefaultUpstreamURL is used when no base URL is configured anywhere.
const DefaultUpstreamURL = "http://127.0.0.1:5500"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/mentorae-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the gateway itself and cannot be shadowed
// by the proxy prefix or the metrics path.
var reservedRoutes = []string{"/healthz", "/statusz", "/auth", "/admin", "/diagnostics"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string `kong:"help='Upstream base URL (overrides config).',env='UPSTREAM_URL'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Auth     AuthConfig     `toml:"auth"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	ProxyPrefix  string          `toml:"proxy_prefix"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string      `toml:"base_url"`
	TimeoutSeconds  int         `toml:"timeout_seconds"`
	IdleConnections int         `toml:"idle_connections"`
	Retry           RetryConfig `toml:"retry"`
}

// RetryConfig controls the upstream retry policy. One attempt means no retry.
type RetryConfig struct {
	MaxAttempts   int   `toml:"max_attempts"`
	BackoffMillis int   `toml:"backoff_ms"`
	Statuses      []int `toml:"statuses"`
}

// AuthConfig holds Supabase settings. Every field can also be supplied
// through the environment, which wins over the file.
type AuthConfig struct {
	SupabaseURL       string   `toml:"supabase_url" env:"SUPABASE_URL"`
	AnonKey           string   `toml:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceRoleKey    string   `toml:"service_role_key" env:"SUPABASE_SERVICE_ROLE"`
	JWTSecret         string   `toml:"jwt_secret" env:"SUPABASE_JWT_SECRET"`
	Audience          string   `toml:"audience" env:"SUPABASE_JWT_AUDIENCE"`
	AdminEmails       []string `toml:"admin_emails" env:"MENTORAE_ADMIN_EMAILS"`
	AdminMaxScanPages int      `toml:"admin_max_scan_pages"`
	SessionCacheSize  int      `toml:"session_cache_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, overlays auth settings from the
// environment and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/mentorae-gateway/config.toml then configs/config.toml. A missing file
// is not an error unless it was named explicitly.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamURL != "" {
		c.Upstream.BaseURL = cli.UpstreamURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL != "" {
		if err := validateHTTPURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
			return err
		}
	}
	if c.Auth.SupabaseURL != "" {
		if err := validateHTTPURL("auth.supabase_url", c.Auth.SupabaseURL); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.Retry.MaxAttempts < 0 || c.Upstream.Retry.MaxAttempts > 10 {
		return fmt.Errorf("upstream.retry.max_attempts must be 0-10; got %d", c.Upstream.Retry.MaxAttempts)
	}
	if c.Upstream.Retry.BackoffMillis < 0 {
		return fmt.Errorf("upstream.retry.backoff_ms must be non-negative; got %d", c.Upstream.Retry.BackoffMillis)
	}
	for _, s := range c.Upstream.Retry.Statuses {
		if s < 500 || s > 599 {
			return fmt.Errorf("upstream.retry.statuses must be 5xx codes; got %d", s)
		}
	}
	if c.Auth.AdminMaxScanPages < 0 {
		return fmt.Errorf("auth.admin_max_scan_pages must be non-negative; got %d", c.Auth.AdminMaxScanPages)
	}
	if c.Auth.SessionCacheSize < 0 {
		return fmt.Errorf("auth.session_cache_size must be non-negative; got %d", c.Auth.SessionCacheSize)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if p := c.Server.ProxyPrefix; p != "" {
		if p[0] != '/' || p == "/" || strings.HasSuffix(p, "/") {
			return fmt.Errorf("server.proxy_prefix must start with '/' and not end with '/'; got %q", p)
		}
		if r := conflictingRoute(p); r != "" {
			return fmt.Errorf("server.proxy_prefix %q conflicts with reserved route %q", p, r)
		}
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		prefix := c.Server.ProxyPrefix
		if prefix == "" {
			prefix = "/proxy"
		}
		for _, reserved := range append([]string{prefix}, reservedRoutes...) {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host; got %q", field, raw)
	}
	return nil
}

// conflictingRoute returns the reserved route that p overlaps, if any.
func conflictingRoute(p string) string {
	for _, r := range reservedRoutes {
		if p == r || strings.HasPrefix(p, r+"/") || strings.HasPrefix(r, p+"/") {
			return r
		}
	}
	return ""
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 100 * 1024 * 1024 // video uploads pass through
	}
	if c.Server.ProxyPrefix == "" {
		c.Server.ProxyPrefix = "/proxy"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamURL
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.Retry.MaxAttempts == 0 {
		c.Upstream.Retry.MaxAttempts = 1
	}
	if c.Upstream.Retry.BackoffMillis == 0 {
		c.Upstream.Retry.BackoffMillis = 250
	}
	if len(c.Upstream.Retry.Statuses) == 0 {
		c.Upstream.Retry.Statuses = []int{502, 503, 504}
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "authenticated"
	}
	if c.Auth.AdminMaxScanPages == 0 {
		c.Auth.AdminMaxScanPages = 20
	}
	if c.Auth.SessionCacheSize == 0 {
		c.Auth.SessionCacheSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
