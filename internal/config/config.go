// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SessionConfig governs session admission and expiration.
type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	MaxSessions  int           `mapstructure:"max_sessions"`
	MaxJobs      int           `mapstructure:"max_jobs"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// EngineConfig sizes the download worker pool.
type EngineConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// LimitsConfig holds per-session submission rate limits.
type LimitsConfig struct {
	JobsPerMinute int `mapstructure:"jobs_per_minute"`
}

// StorageConfig sets the download workspace location.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ExtractorConfig configures the yt-dlp collaborator.
type ExtractorConfig struct {
	Binary  string `mapstructure:"binary"`
	Quality string `mapstructure:"quality"`
	Format  string `mapstructure:"format"`
	Bitrate string `mapstructure:"bitrate"`
}

// MirrorConfig enables the optional durable record mirror.
type MirrorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUNEPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.max_sessions", 100)
	v.SetDefault("session.max_jobs", 10)
	v.SetDefault("session.reap_interval", "60s")
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.queue_depth", 64)
	v.SetDefault("engine.grace_period", "10s")
	v.SetDefault("limits.jobs_per_minute", 30)
	v.SetDefault("storage.base_dir", "data/downloads")
	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.quality", "best")
	v.SetDefault("extractor.format", "mp3")
	v.SetDefault("extractor.bitrate", "192")
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be > 0")
	}
	if c.Session.MaxJobs <= 0 {
		return fmt.Errorf("session.max_jobs must be > 0")
	}
	if c.Session.ReapInterval <= 0 {
		return fmt.Errorf("session.reap_interval must be > 0")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if c.Engine.QueueDepth <= 0 {
		return fmt.Errorf("engine.queue_depth must be > 0")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir must be set")
	}
	if c.Mirror.Enabled && c.Mirror.DSN == "" {
		return fmt.Errorf("mirror.dsn must be set when mirror is enabled")
	}
	return nil
}
