package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/org/sitepanel/internal/auth"
	"github.com/org/sitepanel/internal/content"
	"github.com/org/sitepanel/internal/ratelimit"
	"github.com/org/sitepanel/internal/storage"
)

type config struct {
	ListenAddr        string           `yaml:"listen_addr"`
	TLSCertFile       string           `yaml:"tls_cert"`
	TLSKeyFile        string           `yaml:"tls_key"`
	LogLevel          string           `yaml:"log_level"`
	AdminPasswordHash string           `yaml:"admin_password_hash"`
	CookieSecure      bool             `yaml:"cookie_secure"`
	TrustProxy        bool             `yaml:"trust_proxy"`
	SessionTTL        time.Duration    `yaml:"session_ttl"`
	ContentCacheTTL   time.Duration    `yaml:"content_cache_ttl"`
	Sections          []string         `yaml:"sections"`
	Storage           storage.Options  `yaml:"storage"`
	LoginLimit        ratelimit.Policy `yaml:"login_limit"`
	APILimit          ratelimit.Policy `yaml:"api_limit"`
}

func defaultConfig() config {
	return config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		CookieSecure:    true,
		SessionTTL:      auth.DefaultSessionTTL,
		ContentCacheTTL: content.DefaultCacheTTL,
		Sections:        slices.Clone(content.DefaultSections),
		Storage: storage.Options{
			Driver:        "file",
			DataDir:       "data",
			MigrationsDir: "migrations",
		},
		LoginLimit: ratelimit.Policy{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute},
		APILimit:   ratelimit.Policy{MaxAttempts: 600, Window: time.Minute, BlockDuration: time.Minute},
	}
}

// loadConfig reads path over the defaults, then applies environment
// overrides. A missing file is not an error; found reports whether it existed.
func loadConfig(path string, getenv func(string) string) (cfg config, found bool, err error) {
	cfg = defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		found = true
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, found, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, false, fmt.Errorf("reading %s: %w", path, err)
	}

	// Env overrides
	if v := getenv("SITEPANEL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.AdminPasswordHash = v
	}
	if v := getenv("SITEPANEL_STORAGE"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := getenv("SITEPANEL_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DBUrl = v
	}
	if v := getenv("SITEPANEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, found, cfg.validate()
}

func (c config) validate() error {
	switch c.Storage.Driver {
	case "file", "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DBUrl == "" {
		return errors.New("storage.db_url must be configured (or DATABASE_URL env var) for postgres")
	}
	if c.LoginLimit.MaxAttempts <= 0 {
		return errors.New("login_limit.max_attempts must be positive")
	}
	if len(c.Sections) == 0 {
		return errors.New("at least one content section must be configured")
	}
	return nil
}
