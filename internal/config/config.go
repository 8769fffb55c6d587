// Package config loads and persists the usagebar YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/types"
)

// EnvConfigPath names the variable that overrides the config file location.
const EnvConfigPath = "USAGEBAR_CONFIG"

type Config struct {
	Poll          PollConfig          `yaml:"poll"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Network       NetworkConfig       `yaml:"network"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type PollConfig struct {
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"` // one of 30, 60, 120, 300, 600
	RequestTimeoutSec  int    `yaml:"request_timeout_sec"`
	Endpoint           string `yaml:"endpoint"`
}

type NotificationsConfig struct {
	Enabled *bool `yaml:"enabled"`
	Desktop *bool `yaml:"desktop"`
}

type CredentialsConfig struct {
	EnvVar          string `yaml:"env_var"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenCache      string `yaml:"token_cache"`
	KeychainService string `yaml:"keychain_service"`
}

type NetworkConfig struct {
	ProbeAddress     string `yaml:"probe_address"`
	ProbeIntervalSec int    `yaml:"probe_interval_sec"`
}

// ServerConfig configures the HTTP surface of the watch command.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// DefaultPath is ~/.config/usagebar/config.yaml.
func DefaultPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "usagebar", "config.yaml")
	}
	return filepath.Join(dir, ".config", "usagebar", "config.yaml")
}

// ResolvePath picks the explicit path, then $USAGEBAR_CONFIG, then
// DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath()
}

// Load reads the file at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Poll.RefreshIntervalSec <= 0 {
		c.Poll.RefreshIntervalSec = int(poller.DefaultInterval / time.Second)
	}
	if c.Poll.RequestTimeoutSec <= 0 {
		c.Poll.RequestTimeoutSec = 30
	}
	if c.Notifications.Enabled == nil {
		c.Notifications.Enabled = boolPtr(true)
	}
	if c.Notifications.Desktop == nil {
		c.Notifications.Desktop = boolPtr(true)
	}
	if c.Network.ProbeIntervalSec <= 0 {
		c.Network.ProbeIntervalSec = 10
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:9464"
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 10
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = 10
	}
	if c.Server.ShutdownSec <= 0 {
		c.Server.ShutdownSec = 10
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if !poller.ValidInterval(c.Poll.RefreshIntervalSec) {
		return types.ValidationError{
			Field:   "poll.refresh_interval_sec",
			Message: fmt.Sprintf("must be one of %v, got %d", poller.AllowedIntervals, c.Poll.RefreshIntervalSec),
		}
	}
	if c.Poll.RequestTimeoutSec <= 0 {
		return types.ValidationError{Field: "poll.request_timeout_sec", Message: "must be positive"}
	}
	switch c.Logging.Env {
	case "local", "dev", "prod":
	default:
		return types.ValidationError{
			Field:   "logging.env",
			Message: fmt.Sprintf("must be local, dev or prod, got %q", c.Logging.Env),
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return types.ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be debug, info, warn or error, got %q", c.Logging.Level),
		}
	}
	return nil
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Poll.RefreshIntervalSec) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Poll.RequestTimeoutSec) * time.Second
}

func (c Config) NotificationsEnabled() bool {
	return c.Notifications.Enabled == nil || *c.Notifications.Enabled
}

func (c Config) DesktopNotifications() bool {
	return c.Notifications.Desktop == nil || *c.Notifications.Desktop
}

// SetNotificationsEnabled records a runtime toggle for Save.
func (c *Config) SetNotificationsEnabled(enabled bool) {
	c.Notifications.Enabled = boolPtr(enabled)
}

func boolPtr(b bool) *bool { return &b }

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
