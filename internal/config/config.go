package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL  = "http://localhost:8000/api/v1"
	DefaultTimeout = 30 * time.Second
	EnvFile        = ".env"
)

// Config holds application configuration
type Config struct {
	APIURL       string        `env:"MEDCHAT_API_URL"`
	LegacyAPIURL string        `env:"REACT_APP_API_URL"`
	Timeout      time.Duration `env:"MEDCHAT_TIMEOUT" envDefault:"30s"`
	Debug        bool          `env:"MEDCHAT_DEBUG" envDefault:"false"`

	LogDir string `env:"MEDCHAT_LOG_DIR" envDefault:"logs"`
	// DBPath is the local history database; empty disables persistence
	DBPath string `env:"MEDCHAT_DB_PATH" envDefault:"medchat.db"`

	// HealthInterval of zero checks the backend once at startup
	HealthInterval time.Duration `env:"MEDCHAT_HEALTH_INTERVAL" envDefault:"0s"`

	// SessionID resumes an existing backend session at startup
	SessionID string `env:"MEDCHAT_SESSION_ID"`

	// Dev server
	DevServerAddr string   `env:"MEDCHAT_DEVSERVER_ADDR" envDefault:":8000"`
	CORSOrigins   []string `env:"MEDCHAT_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
}

// Load reads an optional .env file, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = cfg.LegacyAPIURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api url %q: %w", c.APIURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api url %q: scheme must be http or https", c.APIURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %s: must be positive", c.Timeout)
	}
	if c.HealthInterval < 0 {
		return fmt.Errorf("invalid health interval %s: must not be negative", c.HealthInterval)
	}
	return nil
}
