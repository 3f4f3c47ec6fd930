// Package config handles configuration loading for swarmd. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/hiveworks/swarmd/internal/policy"
	"github.com/hiveworks/swarmd/pkg/models"
)

// Config holds all configuration for swarmd.
type Config struct {
	Anthropic AnthropicConfig              `mapstructure:"anthropic"`
	Log       LogConfig                    `mapstructure:"log"`
	Store     StoreConfig                  `mapstructure:"store"`
	Pool      PoolConfig                   `mapstructure:"pool"`
	Decompose DecomposeConfig              `mapstructure:"decompose"`
	Strategy  StrategyConfig               `mapstructure:"strategy"`
	Roles     map[string]policy.RolePolicy `mapstructure:"roles"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	Size          int           `mapstructure:"size"`
	Retry         string        `mapstructure:"retry"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// DecomposeConfig holds decomposition settings.
type DecomposeConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// StrategyConfig holds strategy cache settings.
type StrategyConfig struct {
	// SeedFile is a YAML file of strategies imported at startup and
	// watched for changes. Empty disables seeding.
	SeedFile string `mapstructure:"seed_file"`
	// RefreshSpec is the cron spec for periodic cache reloads.
	RefreshSpec string `mapstructure:"refresh_spec"`
}

// RolePolicies converts the configured role section into the policy
// engine's shape, layered over the built-in defaults. Configured roles
// must belong to the fixed role set.
func (c *Config) RolePolicies() (map[models.Role]policy.RolePolicy, error) {
	roles := policy.DefaultRoles()
	for name, rp := range c.Roles {
		role := models.Role(name)
		if !role.Valid() {
			return nil, fmt.Errorf("config: unknown role %q", name)
		}
		roles[role] = rp
	}
	return roles, nil
}

// Load loads configuration with the following precedence (highest to
// lowest): environment variables, project config (.swarmd.yaml in the
// current directory or a parent), user config
// (~/.config/swarmd/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SWARMD")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Default returns a Config carrying only the built-in defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Pool: PoolConfig{
			Size:          4,
			Retry:         "exponential",
			RetryInterval: time.Second,
		},
		Decompose: DecomposeConfig{MaxDepth: 5},
		Strategy:  StrategyConfig{RefreshSpec: "@every 5m"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.path", "")

	v.SetDefault("store.path", "")

	v.SetDefault("pool.size", 4)
	v.SetDefault("pool.retry", "exponential")
	v.SetDefault("pool.retry_interval", "1s")

	v.SetDefault("decompose.max_depth", 5)

	v.SetDefault("strategy.seed_file", "")
	v.SetDefault("strategy.refresh_spec", "@every 5m")
}

// getUserConfigDir returns the XDG config directory for swarmd.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "swarmd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "swarmd")
	}
	return filepath.Join(home, ".config", "swarmd")
}

// findProjectConfig searches for .swarmd.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".swarmd.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
