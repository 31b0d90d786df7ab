// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// DefaultEnvFile is the dotenv file read when ENV_FILE is unset.
const DefaultEnvFile = ".env"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/credproxy/config.toml",
	"configs/config.toml",
}

// minSecretLen is the shortest accepted session secret, in bytes.
const minSecretLen = 32

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL    string `kong:"help='Backend base URL (overrides config).',env='REMOTE_BASE_URL'"`
	LoginPath     string `kong:"help='Backend login endpoint path (overrides config).',env='LOGIN_ENDPOINT'"`
	EmailField    string `kong:"help='Backend login field carrying the e-mail (overrides config).',env='EMAIL_FIELD'"`
	PasswordField string `kong:"help='Backend login field carrying the password (overrides config).',env='PASSWORD_FIELD'"`
	LoginMode     string `kong:"help='Backend login encoding: json|form (overrides config).',env='LOGIN_MODE'"`
	JSONLogin     string `kong:"name='json-login',help='Legacy login encoding switch: 1 for json, 0 for form. Ignored when --login-mode is set.',env='JSON_LOGIN'"`
	SessionSecret string `kong:"help='Secret used to sign session cookies (overrides config).',env='SESSION_SECRET'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFile       string `kong:"help='Also append logs to this file (overrides config).',env='LOG_FILE'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Session SessionConfig `toml:"session"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Login request encodings.
const (
	LoginModeJSON = "json"
	LoginModeForm = "form"
)

// BackendConfig describes the remote system being proxied.
type BackendConfig struct {
	BaseURL         string `toml:"base_url"`
	LoginPath       string `toml:"login_path"`
	EmailField      string `toml:"email_field"`
	PasswordField   string `toml:"password_field"`
	LoginMode       string `toml:"login_mode"`
	UserAgent       string `toml:"user_agent"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// Jar store kinds.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// SessionConfig holds client session and cookie jar storage settings.
type SessionConfig struct {
	Secret       string      `toml:"secret"`
	CookieName   string      `toml:"cookie_name"`
	SecureCookie bool        `toml:"secure_cookie"`
	TTLSeconds   int         `toml:"ttl_seconds"`
	Store        string      `toml:"store"`
	Redis        RedisConfig `toml:"redis"`
}

// RedisConfig holds connection settings for the redis jar store.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// ProxyConfig holds the mount point for proxied navigation.
type ProxyConfig struct {
	Prefix string `toml:"prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/credproxy/config.toml then configs/config.toml. Without any file the
// configuration is built from CLI flags, environment and defaults alone.
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

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment so that env-backed CLI flags pick them up. Variables already
// set in the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.LoginPath != "" {
		c.Backend.LoginPath = cli.LoginPath
	}
	if cli.EmailField != "" {
		c.Backend.EmailField = cli.EmailField
	}
	if cli.PasswordField != "" {
		c.Backend.PasswordField = cli.PasswordField
	}
	switch {
	case cli.LoginMode != "":
		c.Backend.LoginMode = cli.LoginMode
	case cli.JSONLogin == "1":
		c.Backend.LoginMode = LoginModeJSON
	case cli.JSONLogin == "0":
		c.Backend.LoginMode = LoginModeForm
	}
	if cli.SessionSecret != "" {
		c.Session.Secret = cli.SessionSecret
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		c.Log.File = cli.LogFile
	}
}

func (c *Config) validate() error {
	// Backend URL: required, absolute http(s).
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.base_url must include a host; got %q", c.Backend.BaseURL)
	}

	switch c.Backend.LoginMode {
	case LoginModeJSON, LoginModeForm:
	default:
		return fmt.Errorf("backend.login_mode must be one of: json, form; got %q", c.Backend.LoginMode)
	}
	if c.Backend.EmailField == c.Backend.PasswordField {
		return fmt.Errorf("backend.email_field and backend.password_field must differ; both are %q", c.Backend.EmailField)
	}

	if c.Session.Secret == "change-me" {
		return fmt.Errorf("session.secret contains placeholder value; set a random secret")
	}
	if len(c.Session.Secret) < minSecretLen {
		return fmt.Errorf("session.secret must be at least %d bytes; got %d", minSecretLen, len(c.Session.Secret))
	}
	switch c.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required when session.store is redis")
		}
	default:
		return fmt.Errorf("session.store must be one of: memory, redis; got %q", c.Session.Store)
	}

	p := c.Proxy.Prefix
	if len(p) < 2 || p[0] != '/' || p[len(p)-1] != '/' {
		return fmt.Errorf("proxy.prefix must start and end with '/' and name a path segment; got %q", p)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be non-negative; got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Session.TTLSeconds < 0 {
		return fmt.Errorf("session.ttl_seconds must be non-negative; got %d", c.Session.TTLSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range c.reservedRoutes() {
			if mp == "/" || mp == reserved || strings.HasPrefix(mp, strings.TrimSuffix(reserved, "/")+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

func (c *Config) reservedRoutes() []string {
	return []string{c.Proxy.Prefix, "/logout", "/healthz", "/status"}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; only the login form posts bodies
	}
	if c.Backend.LoginPath == "" {
		c.Backend.LoginPath = "/api/auth/login"
	}
	if c.Backend.EmailField == "" {
		c.Backend.EmailField = "email"
	}
	if c.Backend.PasswordField == "" {
		c.Backend.PasswordField = "password"
	}
	c.Backend.LoginMode = strings.ToLower(c.Backend.LoginMode)
	if c.Backend.LoginMode == "" {
		c.Backend.LoginMode = LoginModeJSON
	}
	if c.Backend.UserAgent == "" {
		c.Backend.UserAgent = "credproxy/1.0"
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 60
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "credproxy_session"
	}
	if c.Session.TTLSeconds == 0 {
		c.Session.TTLSeconds = 24 * 60 * 60
	}
	c.Session.Store = strings.ToLower(c.Session.Store)
	if c.Session.Store == "" {
		c.Session.Store = StoreMemory
	}
	if c.Session.Redis.KeyPrefix == "" {
		c.Session.Redis.KeyPrefix = "credproxy:jar:"
	}
	if c.Proxy.Prefix == "" {
		c.Proxy.Prefix = "/proxy/"
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

// URL returns the parsed backend base URL. It is validated by Load.
func (c *BackendConfig) URL() (*url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}
	return u, nil
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file carries the session secret and possibly redis credentials.
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
