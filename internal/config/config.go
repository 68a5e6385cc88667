// Package config provides configuration loading, validation, and defaults
// for the chatmix service. Configuration is read from config.yaml with
// CHATMIX_* environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the configuration parameters for all components of the
// chatmix service.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// StoreConfig locates the read-only message store.
type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// CacheConfig controls the local catalog metadata cache.
type CacheConfig struct {
	Path          string        `mapstructure:"path" validate:"required"`
	MaxEntryAge   time.Duration `mapstructure:"max_entry_age"`   // 0 = entries never expire
	SweepSchedule string        `mapstructure:"sweep_schedule"`  // cron expression, "" disables the sweep task
}

// CatalogConfig holds credentials and limits for the remote music catalog.
type CatalogConfig struct {
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
	RedirectURL  string `mapstructure:"redirect_url" validate:"required,url"`

	APIBaseURL  string `mapstructure:"api_base_url" validate:"url"`
	AccountsURL string `mapstructure:"accounts_url" validate:"url"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s,max=5m"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"min=100ms,max=1m"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec" validate:"gt=0"`
}

// HTTPConfig controls the local HTTP API surface.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// Load reads configuration from defaults, config.yaml (optional), and
// CHATMIX_* environment variables, then validates the result.
func Load() (*Config, error) {
	setDefaults()

	if err := readConfig(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// readConfig initializes viper and loads config.yaml if present. A missing
// config file is not an error; defaults and environment variables apply.
func readConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CHATMIX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	viper.SetDefault("store.path", defaultStorePath())

	viper.SetDefault("cache.path", "catalog-cache.db")
	viper.SetDefault("cache.max_entry_age", time.Duration(0))
	viper.SetDefault("cache.sweep_schedule", "0 0 4 * * *")

	viper.SetDefault("catalog.api_base_url", "https://api.spotify.com")
	viper.SetDefault("catalog.accounts_url", "https://accounts.spotify.com")
	viper.SetDefault("catalog.redirect_url", "http://127.0.0.1:8941/api/auth/callback")
	viper.SetDefault("catalog.request_timeout", 30*time.Second)
	viper.SetDefault("catalog.max_retries", 4)
	viper.SetDefault("catalog.retry_base_delay", time.Second)
	viper.SetDefault("catalog.requests_per_sec", 5.0)

	viper.SetDefault("http.addr", "127.0.0.1:8941")
}
