// Package config loads the console's YAML configuration file and applies
// defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a value.
const (
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 8090
	DefaultMaxBody    = 1 << 20
	DefaultSessionTTL = 30 * time.Minute
	DefaultTokenEnv   = "VOXADMIN_REGISTRY_TOKEN"
)

// Duration wraps time.Duration so YAML values like "30m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
	MaxBody    int64  `yaml:"max_body"`
}

// RegistryConfig points at the tool registry gateway.
type RegistryConfig struct {
	BaseURL  string `yaml:"base_url"`
	TokenEnv string `yaml:"token_env"`
}

// OtelConfig configures trace export.
type OtelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Config is the full console configuration.
type Config struct {
	Listen         ListenConfig   `yaml:"listen"`
	Registry       RegistryConfig `yaml:"registry"`
	WebhookBaseURL string         `yaml:"webhook_base_url"`
	SQLitePath     string         `yaml:"sqlite_path"`
	SessionTTL     Duration       `yaml:"session_ttl"`
	Otel           OtelConfig     `yaml:"otel"`
}

// Default returns a config with all defaults applied and no registry wired.
func Default() Config {
	return Config{
		Listen: ListenConfig{
			Host:       DefaultHost,
			Port:       DefaultPort,
			CORSOrigin: "*",
			MaxBody:    DefaultMaxBody,
		},
		Registry: RegistryConfig{
			TokenEnv: DefaultTokenEnv,
		},
		SessionTTL: Duration(DefaultSessionTTL),
	}
}

// Load reads a YAML config file, fills defaults, and validates required
// fields. An empty path returns pure defaults so flags can supply the rest.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = DefaultHost
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.Listen.CORSOrigin == "" {
		c.Listen.CORSOrigin = "*"
	}
	if c.Listen.MaxBody <= 0 {
		c.Listen.MaxBody = DefaultMaxBody
	}
	if c.Registry.TokenEnv == "" {
		c.Registry.TokenEnv = DefaultTokenEnv
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = Duration(DefaultSessionTTL)
	}
}

// Validate rejects configs the serve command cannot act on.
func (c Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Listen.Port)
	}
	if c.Registry.BaseURL != "" && !strings.HasPrefix(c.Registry.BaseURL, "http") {
		return fmt.Errorf("config: registry base_url %q must be an http(s) URL", c.Registry.BaseURL)
	}
	return nil
}

// RegistryToken reads the bearer token from the configured environment
// variable.
func (c Config) RegistryToken() (string, error) {
	token := strings.TrimSpace(os.Getenv(c.Registry.TokenEnv))
	if token == "" {
		return "", fmt.Errorf("config: registry token env %s is empty", c.Registry.TokenEnv)
	}
	return token, nil
}

// DefaultSQLitePath returns the fallback database location under the user's
// home directory.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("config: cannot resolve home directory for default sqlite path")
	}
	dir := filepath.Join(home, ".voxadmin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create %s: %w", dir, err)
	}
	return filepath.Join(dir, "voxadmin.db"), nil
}
