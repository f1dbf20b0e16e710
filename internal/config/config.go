package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	// Session pool
	PoolSize           int `mapstructure:"POOL_SIZE"`
	MaxPagesPerSession int `mapstructure:"MAX_PAGES_PER_SESSION"`
	PageTimeoutSec     int `mapstructure:"PAGE_TIMEOUT"`

	ProxyURL      string `mapstructure:"PROXY_URL"`
	ProxyUser     string `mapstructure:"PROXY_USER"`
	ProxyPassword string `mapstructure:"PROXY_PASSWORD"`

	// Source crawler
	FlushThreshold   int `mapstructure:"FLUSH_THRESHOLD"`
	MaxPagesDefault  int `mapstructure:"MAX_PAGES_DEFAULT"`
	JitterMinMs      int `mapstructure:"JITTER_MIN_MS"`
	JitterMaxMs      int `mapstructure:"JITTER_MAX_MS"`
	BlockCooldownSec int `mapstructure:"BLOCK_COOLDOWN"`

	// Mass-crawl scheduler
	SourceWorkers       int `mapstructure:"SOURCE_WORKERS"`
	FreshnessHours      int `mapstructure:"FRESHNESS_HOURS"`
	IdleCooldownMin     int `mapstructure:"IDLE_COOLDOWN_MINUTES"`
	InterTargetSleepSec int `mapstructure:"INTER_TARGET_SLEEP"`

	// Entity resolution
	MinMatchScore       float64 `mapstructure:"MIN_MATCH_SCORE"`
	ResolutionBatchSize int     `mapstructure:"RESOLUTION_BATCH_SIZE"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables in production.
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("POOL_SIZE", 4)
	viper.SetDefault("MAX_PAGES_PER_SESSION", 10)
	viper.SetDefault("PAGE_TIMEOUT", 45) // seconds
	viper.SetDefault("FLUSH_THRESHOLD", 200)
	viper.SetDefault("MAX_PAGES_DEFAULT", 50)
	viper.SetDefault("JITTER_MIN_MS", 1500)
	viper.SetDefault("JITTER_MAX_MS", 4500)
	viper.SetDefault("BLOCK_COOLDOWN", 45) // seconds
	viper.SetDefault("SOURCE_WORKERS", 5)
	viper.SetDefault("FRESHNESS_HOURS", 24)
	viper.SetDefault("IDLE_COOLDOWN_MINUTES", 60)
	viper.SetDefault("INTER_TARGET_SLEEP", 5) // seconds
	viper.SetDefault("MIN_MATCH_SCORE", 0.75)
	viper.SetDefault("RESOLUTION_BATCH_SIZE", 500)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PageTimeout returns the per-page navigation timeout.
func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSec) * time.Second
}

// FreshnessWindow returns how long a crawled target stays fresh.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessHours) * time.Hour
}

// IdleCooldown returns the scheduler sleep when a source has no stale targets.
func (c *Config) IdleCooldown() time.Duration {
	return time.Duration(c.IdleCooldownMin) * time.Minute
}
