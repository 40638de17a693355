// ABOUTME: Configuration loading for gestor from YAML, .env files and the environment
// ABOUTME: Resolves XDG default paths and validates settings before anything connects upstream
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/harperreed/gestor/sync"
	"github.com/harperreed/gestor/upstream"
)

const (
	AppName           = "gestor"
	ConfigFileName    = "config.yaml"
	DefaultBaseURL    = "https://api.acessorias.com"
	DefaultRateBudget = 90
	DefaultHTTPAddr   = ":8080"
)

var ErrMissingToken = errors.New("upstream API token is not set (ACESSORIAS_TOKEN)")

type Config struct {
	DatabasePath string         `yaml:"database_path"`
	Upstream     UpstreamConfig `yaml:"upstream"`
	Sync         SyncConfig     `yaml:"sync"`
	Log          LogConfig      `yaml:"log"`
	HTTP         HTTPConfig     `yaml:"http"`
}

type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// RateBudget is the number of requests allowed per minute.
	RateBudget  int           `yaml:"rate_budget"`
	MaxAttempts int           `yaml:"max_attempts"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
}

type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	InitialRun       bool          `yaml:"initial_run"`
	InitialFull      bool          `yaml:"initial_full"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
	ProcessStatuses  []string      `yaml:"process_statuses"`
	ProcessLookback  time.Duration `yaml:"process_lookback"`
	ProcessOverlap   time.Duration `yaml:"process_overlap"`
	DeliveryLookback time.Duration `yaml:"delivery_lookback"`
	MaxPages         int           `yaml:"max_pages"`

	// DeliveryHistoryMonths is loaded by full and first runs.
	DeliveryHistoryMonths int `yaml:"delivery_history_months"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a config with every default filled in except the token.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: DefaultDatabasePath(),
		Upstream: UpstreamConfig{
			BaseURL:     DefaultBaseURL,
			RateBudget:  DefaultRateBudget,
			MaxAttempts: upstream.DefaultMaxAttempts,
			PageSize:    upstream.DefaultPageSize,
			Timeout:     upstream.DefaultTimeout,
			UserAgent:   upstream.DefaultUserAgent,
		},
		Sync: SyncConfig{
			Interval:              sync.DefaultInterval,
			InitialRun:            true,
			LockTTL:               sync.DefaultLockTTL,
			ProcessStatuses:       append([]string(nil), sync.DefaultProcessStatuses...),
			ProcessLookback:       sync.DefaultProcessLookback,
			ProcessOverlap:        sync.DefaultProcessOverlap,
			DeliveryLookback:      sync.DefaultDeliveryLookback,
			DeliveryHistoryMonths: sync.DefaultDeliveryHistoryMonths,
			MaxPages:              upstream.DefaultMaxPages,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: DefaultHTTPAddr,
		},
	}
}

// ConfigDir returns the XDG config directory for gestor.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultPath returns the XDG config file path.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// DefaultDatabasePath returns the XDG data path for the SQLite database.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, AppName, "gestor.db")
}

// Load builds the effective config: defaults, then the YAML file at path
// (DefaultPath when empty), then .env files, then the environment.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := loadDotEnv(".env", filepath.Join(ConfigDir(), ".env")); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads every .env file that exists. Variables already set in
// the environment win.
func loadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides:
// - ACESSORIAS_TOKEN, ACESSORIAS_BASE_URL, ACESSORIAS_RATE_BUDGET
// - ACESSORIAS_READ_TIMEOUT (seconds)
// - GESTOR_DB_PATH, GESTOR_SYNC_INTERVAL, GESTOR_LOG_LEVEL
// - GESTOR_LOG_FORMAT, GESTOR_HTTP_ADDR.
func applyEnvOverrides(cfg *Config) error {
	if token := strings.TrimSpace(os.Getenv("ACESSORIAS_TOKEN")); token != "" {
		cfg.Upstream.Token = token
	}
	if base := os.Getenv("ACESSORIAS_BASE_URL"); base != "" {
		cfg.Upstream.BaseURL = base
	}
	if budget := os.Getenv("ACESSORIAS_RATE_BUDGET"); budget != "" {
		n, err := strconv.Atoi(strings.TrimSpace(budget))
		if err != nil {
			return fmt.Errorf("invalid ACESSORIAS_RATE_BUDGET %q: %w", budget, err)
		}
		cfg.Upstream.RateBudget = n
	}
	if timeout := os.Getenv("ACESSORIAS_READ_TIMEOUT"); timeout != "" {
		secs, err := strconv.ParseFloat(strings.TrimSpace(timeout), 64)
		if err != nil {
			return fmt.Errorf("invalid ACESSORIAS_READ_TIMEOUT %q: %w", timeout, err)
		}
		cfg.Upstream.Timeout = time.Duration(secs * float64(time.Second))
	}
	if path := os.Getenv("GESTOR_DB_PATH"); path != "" {
		cfg.DatabasePath = path
	}
	if interval := os.Getenv("GESTOR_SYNC_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid GESTOR_SYNC_INTERVAL %q: %w", interval, err)
		}
		cfg.Sync.Interval = d
	}
	if level := os.Getenv("GESTOR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("GESTOR_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
	if addr := os.Getenv("GESTOR_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	return nil
}

// Validate checks settings that do not depend on the upstream being
// reachable. The token is checked separately by RequireToken since read-only
// commands work without it.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream base URL %q", c.Upstream.BaseURL)
	}
	if c.Upstream.RateBudget < 0 {
		return fmt.Errorf("rate budget must not be negative, got %d", c.Upstream.RateBudget)
	}
	if c.Sync.DeliveryHistoryMonths < 0 {
		return fmt.Errorf("delivery history months must not be negative, got %d", c.Sync.DeliveryHistoryMonths)
	}
	if c.Sync.Interval != 0 && c.Sync.Interval < sync.MinInterval {
		return fmt.Errorf("sync interval must be at least %s, got %s", sync.MinInterval, c.Sync.Interval)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// RequireToken fails when no upstream token is configured.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Upstream.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// Save writes cfg as YAML to path with restricted permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
