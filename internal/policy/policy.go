// Package policy resolves statebridge configuration and credentials.
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/jaakkos/statebridge/internal/domain"
)

// GlobalStateDir returns the default global state directory (~/.config/statebridge).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "statebridge")
}

// GlobalStoreFile returns the default local key-value store path.
func GlobalStoreFile() string {
	return filepath.Join(GlobalStateDir(), "local.sqlite")
}

// GlobalConfigFile returns the default config file path.
func GlobalConfigFile() string {
	return filepath.Join(GlobalStateDir(), "config.yaml")
}

// Config holds statebridge configuration. Endpoint and APIKey act as the
// lowest-priority credential source; explicit arguments and the local store
// win over them (see session.Connect).
type Config struct {
	Endpoint string `yaml:"endpoint" env:"STATEBRIDGE_URL"`
	APIKey   string `yaml:"api_key" env:"STATEBRIDGE_KEY"`

	StoreFile string `yaml:"store_file"`
	LogFile   string `yaml:"log_file"`

	HTTPTimeoutSeconds    int `yaml:"http_timeout_seconds"`
	AutoBackupIntervalMin int `yaml:"auto_backup_interval_minutes"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeoutSeconds:    15,
		AutoBackupIntervalMin: 10,
	}
}

// LoadConfig loads configuration from a YAML file, then overlays environment
// variables (STATEBRIDGE_URL, STATEBRIDGE_KEY). A missing config file is not
// an error; env-only configuration is a supported setup.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// StorePath returns the local store path, defaulting to
// ~/.config/statebridge/local.sqlite.
func (c *Config) StorePath() string {
	if c.StoreFile == "" {
		return GlobalStoreFile()
	}
	return c.StoreFile
}

// LogFilePath returns the log file path, defaulting to
// ~/.config/statebridge/statebridge.log. Set to "none" or "off" to disable
// file logging entirely.
func (c *Config) LogFilePath() string {
	if c.LogFile == "" {
		return filepath.Join(GlobalStateDir(), "statebridge.log")
	}
	return c.LogFile
}

// Fallback returns the credentials carried by the config/env layer. Both
// fields may be empty; the caller decides whether that is fatal.
func (c *Config) Fallback() domain.Credentials {
	return domain.Credentials{Endpoint: c.Endpoint, APIKey: c.APIKey}
}

// ValidateCredentials checks that the endpoint is present and the API key
// parses as a JWT (three dot-separated segments). The signature is never
// verified here; that is the backend's job. Runs before any network call.
func ValidateCredentials(creds domain.Credentials) error {
	if creds.Endpoint == "" {
		return &domain.ConfigError{Field: "endpoint", Reason: "missing"}
	}
	if creds.APIKey == "" {
		return &domain.ConfigError{Field: "api_key", Reason: "missing"}
	}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(creds.APIKey, jwt.MapClaims{}); err != nil {
		return &domain.ConfigError{Field: "api_key", Reason: fmt.Sprintf("malformed: %v", err)}
	}
	return nil
}
