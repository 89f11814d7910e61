// Package config loads the worker configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level worker configuration.
type Config struct {
	Platform PlatformConfig `mapstructure:"platform"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Sweeps   SweepsConfig   `mapstructure:"sweeps"`
	Media    MediaConfig    `mapstructure:"media"`
}

// PlatformConfig carries the external platform endpoints and identity.
type PlatformConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	EVURL     string  `mapstructure:"ev_url"`
	SASURL    string  `mapstructure:"sas_url"`
	UserID    string  `mapstructure:"user_id"`
	OrgName   string  `mapstructure:"org_name"`
	TimeZone  string  `mapstructure:"time_zone"`
	RateLimit float64 `mapstructure:"rate_limit"`

	// CookieServiceURL is the secret service that issues session bundles.
	// Empty enables the fixed development bundle.
	CookieServiceURL string `mapstructure:"cookie_service_url"`
}

// DatabaseConfig carries the postgres connection settings.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MinConns int32  `mapstructure:"min_conns"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// KafkaConfig carries the lifecycle-event publisher settings. An empty broker
// list disables publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SweepsConfig sets the sweep cadence.
type SweepsConfig struct {
	DownloadInterval time.Duration `mapstructure:"download_interval"`
	UploadInterval   time.Duration `mapstructure:"upload_interval"`
	FailedInterval   time.Duration `mapstructure:"failed_interval"`
}

// MediaConfig locates the artifact storage root.
type MediaConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads the configuration file at path (optional) and applies
// environment overrides prefixed with TURNITIN_, e.g.
// TURNITIN_DATABASE_DSN overrides database.dsn.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults also register the keys so environment overrides apply on
	// Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("platform.base_url", "")
	v.SetDefault("platform.ev_url", "")
	v.SetDefault("platform.sas_url", "")
	v.SetDefault("platform.user_id", "")
	v.SetDefault("platform.org_name", "")
	v.SetDefault("platform.time_zone", "")
	v.SetDefault("platform.rate_limit", 0.0)
	v.SetDefault("platform.cookie_service_url", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("kafka.topic", "submission-lifecycle")
	v.SetDefault("sweeps.download_interval", time.Minute)
	v.SetDefault("sweeps.upload_interval", time.Minute)
	v.SetDefault("sweeps.failed_interval", time.Minute)
	v.SetDefault("media.dir", "media")

	v.SetEnvPrefix("TURNITIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	return &cfg, nil
}
