package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pfrederiksen/dpwh-projects/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. DPWH_STORAGE_DRIVER.
const EnvPrefix = "DPWH"

// Config is the full application configuration.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Regions  RegionsConfig  `mapstructure:"regions"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type ScraperConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent"`
}

type ScheduleConfig struct {
	MissingThreshold time.Duration `mapstructure:"missing_threshold" validate:"gt=0"`
	MinDelay         time.Duration `mapstructure:"min_delay" validate:"gte=0"`
	MaxDelay         time.Duration `mapstructure:"max_delay" validate:"gtefield=MinDelay"`
	Policy           string        `mapstructure:"policy" validate:"oneof=before-scrape after-success"`
	CursorTTL        time.Duration `mapstructure:"cursor_ttl" validate:"gte=0"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl" validate:"gt=0"`
}

// StorageConfig selects the backend. DSN, when set, wins over the MySQL
// fields.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=file mysql sqlite memory"`
	DataDir         string        `mapstructure:"data_dir"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the Redis cursor and leases when Address is set.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// RegionsConfig points at a seed file; empty uses the embedded list.
type RegionsConfig struct {
	File string `mapstructure:"file"`
}

// NotifyConfig controls change notifications. Target "log" prints the posts
// instead of publishing them.
type NotifyConfig struct {
	Target   string        `mapstructure:"target" validate:"oneof=none log twitter"`
	Types    []string      `mapstructure:"types" validate:"dive,oneof=created updated potentially_deleted"`
	MaxPosts int           `mapstructure:"max_posts" validate:"gte=0"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	Twitter  TwitterConfig `mapstructure:"twitter"`
}

// TwitterConfig holds OAuth keys; empty fields fall back to TWITTER_*
// environment variables.
type TwitterConfig struct {
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	AccessToken  string `mapstructure:"access_token"`
	AccessSecret string `mapstructure:"access_secret"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from path, or from config.yaml in ./configs, the
// working directory or ~/.dpwh-projects when path is empty. Only a searched
// file may be missing.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dpwh-projects"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoggerConfig converts the logging section for logger.NewFromConfig.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.timeout", "30s")
	v.SetDefault("scraper.user_agent", "")

	v.SetDefault("schedule.missing_threshold", "6h")
	v.SetDefault("schedule.min_delay", "2s")
	v.SetDefault("schedule.max_delay", "5s")
	v.SetDefault("schedule.policy", "before-scrape")
	v.SetDefault("schedule.cursor_ttl", "720h")
	v.SetDefault("schedule.lease_ttl", "5m")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.data_dir", "~/.local/share/dpwh-projects")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.host", "127.0.0.1")
	v.SetDefault("storage.port", 3306)
	v.SetDefault("storage.user", "root")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.name", "dpwh_projects")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "1h")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.addr", ":9109")

	v.SetDefault("regions.file", "")

	v.SetDefault("notify.target", "none")
	v.SetDefault("notify.types", []string{"created", "updated"})
	v.SetDefault("notify.max_posts", 10)
	v.SetDefault("notify.interval", "2s")
	v.SetDefault("notify.twitter.api_key", "")
	v.SetDefault("notify.twitter.api_secret", "")
	v.SetDefault("notify.twitter.access_token", "")
	v.SetDefault("notify.twitter.access_secret", "")
}
