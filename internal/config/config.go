// Package config loads taskmem settings from defaults, an optional YAML
// file, and TASKMEM_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TASKMEM_DATA_DIR or
// TASKMEM_TOKENS_MAX_TOKENS.
const EnvPrefix = "TASKMEM"

// PaginationConfig bounds list operations.
type PaginationConfig struct {
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit" yaml:"max_limit"`
}

// TokensConfig controls response size estimation.
type TokensConfig struct {
	// Estimator is "heuristic" or "tiktoken".
	Estimator     string `mapstructure:"estimator" yaml:"estimator"`
	CharsPerToken int    `mapstructure:"chars_per_token" yaml:"chars_per_token"`
	WarnThreshold int    `mapstructure:"warn_threshold" yaml:"warn_threshold"`
	MaxTokens     int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	// Addr is a listen address such as ":9464"; empty disables the listener.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the full taskmem configuration.
type Config struct {
	DataDir       string           `mapstructure:"data_dir" yaml:"data_dir"`
	BusyTimeout   time.Duration    `mapstructure:"busy_timeout" yaml:"busy_timeout"`
	RetentionDays int              `mapstructure:"retention_days" yaml:"retention_days"`
	Workers       int              `mapstructure:"workers" yaml:"workers"`
	Pagination    PaginationConfig `mapstructure:"pagination" yaml:"pagination"`
	Tokens        TokensConfig     `mapstructure:"tokens" yaml:"tokens"`
	Log           LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics       MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// RegistryPath is the shared registry database file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "registry.db")
}

// DefaultDataDir returns ~/.taskmem, or ./.taskmem when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmem"
	}
	return filepath.Join(home, ".taskmem")
}

// DefaultConfigPath returns <data dir>/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("busy_timeout", "5s")
	v.SetDefault("retention_days", 30)
	v.SetDefault("workers", 4)
	v.SetDefault("pagination.default_limit", 50)
	v.SetDefault("pagination.max_limit", 1000)
	v.SetDefault("tokens.estimator", "heuristic")
	v.SetDefault("tokens.chars_per_token", 4)
	v.SetDefault("tokens.warn_threshold", 10000)
	v.SetDefault("tokens.max_tokens", 25000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration. An empty path means DefaultConfigPath; a
// missing file is not an error and yields defaults plus environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return errors.New("data_dir must not be empty")
	case c.BusyTimeout <= 0:
		return fmt.Errorf("busy_timeout must be positive, got %s", c.BusyTimeout)
	case c.RetentionDays <= 0:
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Pagination.MaxLimit <= 0:
		return fmt.Errorf("pagination.max_limit must be positive, got %d", c.Pagination.MaxLimit)
	case c.Pagination.DefaultLimit <= 0 || c.Pagination.DefaultLimit > c.Pagination.MaxLimit:
		return fmt.Errorf("pagination.default_limit must be between 1 and %d, got %d",
			c.Pagination.MaxLimit, c.Pagination.DefaultLimit)
	case c.Tokens.Estimator != "heuristic" && c.Tokens.Estimator != "tiktoken":
		return fmt.Errorf("tokens.estimator must be heuristic or tiktoken, got %q", c.Tokens.Estimator)
	case c.Tokens.CharsPerToken <= 0:
		return fmt.Errorf("tokens.chars_per_token must be positive, got %d", c.Tokens.CharsPerToken)
	case c.Tokens.MaxTokens <= 0:
		return fmt.Errorf("tokens.max_tokens must be positive, got %d", c.Tokens.MaxTokens)
	case c.Tokens.WarnThreshold <= 0 || c.Tokens.WarnThreshold >= c.Tokens.MaxTokens:
		return fmt.Errorf("tokens.warn_threshold must be between 1 and tokens.max_tokens (%d), got %d",
			c.Tokens.MaxTokens, c.Tokens.WarnThreshold)
	}
	return nil
}
