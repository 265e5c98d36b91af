// Package config loads BaluHost's configuration from an optional YAML
// file layered under environment variable overrides, then validates the
// result with struct tags — the same file+env+validate shape the wider
// example corpus uses for its own config loaders.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Mode selects the RAID backend and sampler cadence defaults.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// Config is the top-level configuration object, as described in §6.
type Config struct {
	Mode Mode `yaml:"mode" validate:"required,oneof=dev prod"`

	StorageRootPath string `yaml:"storageRootPath" validate:"required"`
	TempPath        string `yaml:"tempPath" validate:"required"`

	PerUserQuotaBytes int64 `yaml:"perUserQuotaBytes" validate:"min=0"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Database   DatabaseConfig   `yaml:"database"`
}

type MonitoringConfig struct {
	TickInterval  time.Duration `yaml:"tickInterval" validate:"required"`
	SmartInterval time.Duration `yaml:"smartInterval" validate:"required"`
}

type SchedulerConfig struct {
	ScrubInterval      time.Duration `yaml:"scrubInterval"`
	SmartInterval      time.Duration `yaml:"smartInterval"`
	AutoBackupInterval time.Duration `yaml:"autoBackupInterval"`
	GracePeriod        time.Duration `yaml:"gracePeriod"`
}

type TokensConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	GracePeriod time.Duration `yaml:"gracePeriod"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn" validate:"required"`
	MaxOpenConns int    `yaml:"maxOpenConns" validate:"min=1"`
}

func defaults() Config {
	return Config{
		Mode:              ModeDev,
		StorageRootPath:   "/srv/baluhost/storage",
		TempPath:          "/srv/baluhost/tmp",
		PerUserQuotaBytes: 0,
		Monitoring: MonitoringConfig{
			TickInterval:  5 * time.Second,
			SmartInterval: time.Hour,
		},
		Scheduler: SchedulerConfig{
			ScrubInterval:      7 * 24 * time.Hour,
			SmartInterval:      time.Hour,
			AutoBackupInterval: 24 * time.Hour,
			GracePeriod:        10 * time.Second,
		},
		Tokens: TokensConfig{
			TTL:         30 * 24 * time.Hour,
			GracePeriod: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
	}
}

// Load reads configFile (if non-empty), layers in BALUHOST_*
// environment overrides, and validates the result.
func Load(configFile string) (*Config, error) {
	cfg := defaults()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BALUHOST_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("BALUHOST_STORAGE_ROOT"); v != "" {
		cfg.StorageRootPath = v
	}
	if v := os.Getenv("BALUHOST_TEMP_PATH"); v != "" {
		cfg.TempPath = v
	}
	if v := os.Getenv("BALUHOST_QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PerUserQuotaBytes = n
		}
	}
	if v := os.Getenv("BALUHOST_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}
