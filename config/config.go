package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// EnvToken is the environment variable name for the GitHub API token
	EnvToken = "GHMIRROR_TOKEN"

	// DefaultEndpoint is the public GitHub GraphQL endpoint
	DefaultEndpoint = "https://api.github.com/graphql"
)

// Config represents the application configuration
type Config struct {
	// GraphQL endpoint; GitHub Enterprise uses https://<host>/api/graphql
	Endpoint string `toml:"endpoint"`

	// GitHub API token (optional here, can be set via GHMIRROR_TOKEN env var)
	Token string `toml:"token"`

	PageSize    int `toml:"page_size"`
	Concurrency int `toml:"concurrency"`
	Retries     int `toml:"retries"`

	// Directory holding the store and the sync database, relative to the
	// config file unless absolute
	DataDir string `toml:"data_dir"`

	Log LogConfig `toml:"log"`
}

// LogConfig controls the log level and the rotating log file
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		Endpoint:    DefaultEndpoint,
		PageSize:    50,
		Concurrency: 2,
		Retries:     3,
		DataDir:     "data",
		Log: LogConfig{
			Level:      "info",
			File:       "ghmirror.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads the configuration from a TOML file
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if envToken := os.Getenv(EnvToken); envToken != "" {
		config.Token = envToken
	}

	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.DataDir == "" {
		config.DataDir = "data"
	}
	if !filepath.IsAbs(config.DataDir) {
		config.DataDir = filepath.Join(filepath.Dir(path), config.DataDir)
	}
	if config.Log.File != "" && !filepath.IsAbs(config.Log.File) {
		config.Log.File = filepath.Join(config.DataDir, config.Log.File)
	}

	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(config *Config, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(Default(), path)
}

// Host returns the host name of the configured endpoint
func (c *Config) Host() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" {
		return "api.github.com"
	}
	return u.Hostname()
}

// StoreDir is where the entity store of the configured endpoint lives
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, c.Host())
}

// DatabasePath is the sync metadata database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sync.db")
}
