// Package config holds the client settings. Values are layered: defaults,
// then a .env file and the process environment, then command-line flags
// (applied by the caller). Later sources take precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

const (
	appDirName    = "nutribot"
	tokenFileName = "token"
)

// Config holds runtime settings for the nutri client.
type Config struct {
	APIURL    string
	TokenFile string
	Timeout   time.Duration
	LogLevel  string
	LogFile   string
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.APIURL = "http://localhost:8080"
	c.Timeout = 10 * time.Second
	c.LogLevel = "info"
	if path, err := DefaultTokenPath(); err == nil {
		c.TokenFile = path
	}
}

// Load applies defaults and then overlays envFile (if it exists) and the
// environment. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NUTRI_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("NUTRI_TOKEN_FILE"); v != "" {
		c.TokenFile = v
	}
	if v := os.Getenv("NUTRI_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NUTRI_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("NUTRI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NUTRI_TIMEOUT %q: %w", v, err)
		}
		c.Timeout = d
	}
	return nil
}

// DefaultTokenPath is where the bearer credential is persisted when no other
// location is configured.
func DefaultTokenPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDirName, tokenFileName), nil
}
