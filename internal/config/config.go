package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // trading days depend on named zones even on minimal images

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	MinPollInterval = 10 * time.Second
	MaxPollInterval = 600 * time.Second
)

// Config represents the complete application configuration
type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ExchangeConfig holds market-data API configuration
type ExchangeConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	APISecret        string        `mapstructure:"api_secret"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelayBase   time.Duration `mapstructure:"retry_delay_base"`
	RangeResolution  string        `mapstructure:"range_resolution"`
	VolumeResolution string        `mapstructure:"volume_resolution"`
	VolumeWindowDays int           `mapstructure:"volume_window_days"`
}

// MonitorConfig holds polling and alerting behavior
type MonitorConfig struct {
	Symbols      []string      `mapstructure:"symbols"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timezone     string        `mapstructure:"timezone"`
	Workers      int           `mapstructure:"workers"`
	CacheRanges  bool          `mapstructure:"cache_ranges"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects and configures the alert ledger backend
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	DBPath        string `mapstructure:"db_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BREAKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Monitor.Symbols = normalizeSymbols(cfg.Monitor.Symbols)

	return &cfg, nil
}

// normalizeSymbols upper-cases, trims and deduplicates symbols, keeping order.
func normalizeSymbols(symbols []string) []string {
	cleaned := lo.FilterMap(symbols, func(s string, _ int) (string, bool) {
		s = strings.ToUpper(strings.TrimSpace(s))
		return s, s != ""
	})
	return lo.Uniq(cleaned)
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.base_url", "https://api.india.delta.exchange")
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.max_retries", 2)
	v.SetDefault("exchange.retry_delay_base", "500ms")
	v.SetDefault("exchange.range_resolution", "30m")
	v.SetDefault("exchange.volume_resolution", "5m")
	v.SetDefault("exchange.volume_window_days", 3)

	v.SetDefault("monitor.symbols", []string{"BTCUSD", "ETHUSD"})
	v.SetDefault("monitor.poll_interval", "300s")
	v.SetDefault("monitor.timezone", "Asia/Kolkata")
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.cache_ranges", true)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.timeout", "10s")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/breakwatch.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_prefix", "breakwatch")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var validResolutions = map[string]time.Duration{
	"1m": time.Minute, "3m": 3 * time.Minute, "5m": 5 * time.Minute,
	"15m": 15 * time.Minute, "30m": 30 * time.Minute, "1h": time.Hour,
	"2h": 2 * time.Hour, "4h": 4 * time.Hour, "6h": 6 * time.Hour, "1d": 24 * time.Hour,
}

// alignsWithDays reports whether UTC-aligned buckets of res start exactly on
// local midnight in loc, in both halves of the year.
func alignsWithDays(res time.Duration, loc *time.Location) bool {
	year := time.Now().Year()
	for _, month := range []time.Month{time.January, time.July} {
		_, offset := time.Date(year, month, 1, 0, 0, 0, 0, loc).Zone()
		if (time.Duration(offset)*time.Second)%res != 0 {
			return false
		}
	}
	return true
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Exchange
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Exchange.Timeout <= 0 || c.Exchange.Timeout > 60*time.Second {
		return fmt.Errorf("exchange.timeout must be between 0 and 60s")
	}
	if c.Exchange.MaxRetries < 0 || c.Exchange.MaxRetries > 5 {
		return fmt.Errorf("exchange.max_retries must be between 0 and 5")
	}
	if (c.Exchange.APIKey == "") != (c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret must be set together")
	}
	rangeRes, ok := validResolutions[c.Exchange.RangeResolution]
	if !ok {
		return fmt.Errorf("exchange.range_resolution %q is not supported", c.Exchange.RangeResolution)
	}
	if _, ok := validResolutions[c.Exchange.VolumeResolution]; !ok {
		return fmt.Errorf("exchange.volume_resolution %q is not supported", c.Exchange.VolumeResolution)
	}
	if c.Exchange.VolumeWindowDays < 1 || c.Exchange.VolumeWindowDays > 30 {
		return fmt.Errorf("exchange.volume_window_days must be between 1 and 30")
	}

	// Monitor
	if len(c.Monitor.Symbols) == 0 {
		return fmt.Errorf("monitor.symbols must contain at least one symbol")
	}
	if c.Monitor.PollInterval < MinPollInterval || c.Monitor.PollInterval > MaxPollInterval {
		return fmt.Errorf("monitor.poll_interval must be between %v and %v", MinPollInterval, MaxPollInterval)
	}
	loc, err := c.Location()
	if err != nil {
		return fmt.Errorf("monitor.timezone: %w", err)
	}
	if !alignsWithDays(rangeRes, loc) {
		return fmt.Errorf("exchange.range_resolution %s does not align with midnight in %s", c.Exchange.RangeResolution, c.Monitor.Timezone)
	}
	if c.Monitor.Workers < 1 || c.Monitor.Workers > 64 {
		return fmt.Errorf("monitor.workers must be between 1 and 64")
	}

	// Telegram
	if c.Telegram.Timeout <= 0 || c.Telegram.Timeout > 60*time.Second {
		return fmt.Errorf("telegram.timeout must be between 0 and 60s")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Storage
	switch c.Storage.Backend {
	case "sqlite":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: sqlite, redis, postgres")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative")
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server is enabled")
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location resolves the reference timezone that defines trading days.
func (c *Config) Location() (*time.Location, error) {
	if c.Monitor.Timezone == "" {
		return nil, fmt.Errorf("timezone is required")
	}
	return time.LoadLocation(c.Monitor.Timezone)
}
