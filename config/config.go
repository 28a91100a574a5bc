package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"

	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

// Config represents the process configuration, read from the environment
type Config struct {
	// Mongo configuration
	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"real_estate"`

	// Redis configuration
	RedisAddr            string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB              int           `env:"REDIS_DB" envDefault:"0"`
	RedisStream          string        `env:"REDIS_STREAM" envDefault:"properties"`
	RedisStreamCount     int           `env:"REDIS_STREAM_COUNT" envDefault:"1"`
	RedisStreamMaxLength int           `env:"REDIS_STREAM_MAX_LENGTH" envDefault:"1000"`
	RedisLockKey         string        `env:"REDIS_LOCK_KEY" envDefault:"scraper:run-lock"`
	RunLockTTL           time.Duration `env:"RUN_LOCK_TTL" envDefault:"30m"`

	// Memcache configuration
	MemcacheAddr string `env:"MEMCACHE_ADDR" envDefault:"localhost:11211"`

	// Scraper configuration
	CronInterval      string `env:"CRON_INTERVAL" envDefault:"hourly"`
	ScraperConfigPath string `env:"SCRAPER_CONFIG" envDefault:"configs/scraper.yaml"`
	GeocodeEndpoint   string `env:"GEOCODE_ENDPOINT" envDefault:"https://nominatim.openstreetmap.org/reverse"`
	GeocodeLanguage   string `env:"GEOCODE_LANGUAGE" envDefault:"ro"`

	// HTTP trigger API
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Environment
	Environment string `env:"SCRAPER_ENVIRONMENT" envDefault:"development"`
}

// CronIntervals are the schedule names accepted by CRON_INTERVAL
var CronIntervals = map[string]time.Duration{
	"15min":   15 * time.Minute,
	"30min":   30 * time.Minute,
	"hourly":  time.Hour,
	"6hours":  6 * time.Hour,
	"12hours": 12 * time.Hour,
	"daily":   24 * time.Hour,
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// CrawlInterval resolves CronInterval to a duration
func (c *Config) CrawlInterval() time.Duration {
	return CronIntervals[c.CronInterval]
}

// Validate checks the process configuration
func (c *Config) Validate() error {
	if _, ok := CronIntervals[c.CronInterval]; !ok {
		return errors.NewConfiguration(fmt.Sprintf("unknown cron interval %q", c.CronInterval), nil)
	}
	if c.MongoURI == "" {
		return errors.NewConfiguration("MONGO_URI is required", nil)
	}
	if c.RedisStreamCount < 1 {
		return errors.NewConfiguration("REDIS_STREAM_COUNT must be at least 1", nil)
	}
	if c.RunLockTTL <= 0 {
		return errors.NewConfiguration("RUN_LOCK_TTL must be positive", nil)
	}
	return nil
}
