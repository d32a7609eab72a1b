package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName is used for config directories, notification titles and the User-Agent.
const AppName = "usageminder"

// Config holds the complete application configuration
type Config struct {
	Language        string          `mapstructure:"language" json:"language"`
	PollInterval    string          `mapstructure:"poll_interval" json:"poll_interval"`
	CredentialsPath string          `mapstructure:"credentials_path" json:"credentials_path"`
	API             APIConfig       `mapstructure:"api" json:"api"`
	Reminder        ReminderConfig  `mapstructure:"reminder" json:"reminder"`
	FocusMode       FocusModeConfig `mapstructure:"focus_mode" json:"focus_mode"`
	Goals           GoalsConfig     `mapstructure:"goals" json:"goals"`
	Storage         StorageConfig   `mapstructure:"storage" json:"storage"`
	Logging         LoggingConfig   `mapstructure:"logging" json:"logging"`
	Metrics         MetricsConfig   `mapstructure:"metrics" json:"metrics"`
}

// APIConfig defines how the usage endpoint is reached
type APIConfig struct {
	BaseURL       string `mapstructure:"base_url" json:"base_url"`
	CacheDuration string `mapstructure:"cache_duration" json:"cache_duration"` // How long a successful response is reused
	Timeout       string `mapstructure:"timeout" json:"timeout"`
	Retries       int    `mapstructure:"retries" json:"retries"` // Extra attempts after the first on transient errors
}

// ReminderConfig defines which reminders fire and how they are delivered
type ReminderConfig struct {
	Enabled              bool     `mapstructure:"enabled" json:"enabled"`
	BeforeResetMinutes   []int    `mapstructure:"before_reset_minutes" json:"before_reset_minutes"`
	OnReset              bool     `mapstructure:"on_reset" json:"on_reset"`
	PercentageThresholds []int    `mapstructure:"percentage_thresholds" json:"percentage_thresholds"`
	SnoozeMinutes        []int    `mapstructure:"snooze_minutes" json:"snooze_minutes"`
	CustomCommand        string   `mapstructure:"custom_command" json:"custom_command"`
	CustomURL            string   `mapstructure:"custom_url" json:"custom_url"`
	Channels             []string `mapstructure:"channels" json:"channels"` // system, bell, command, url
}

// FocusModeConfig defines do-not-disturb behaviour
type FocusModeConfig struct {
	Enabled         bool   `mapstructure:"enabled" json:"enabled"`
	DNDThreshold    int    `mapstructure:"dnd_threshold" json:"dnd_threshold"`
	QuietHoursStart string `mapstructure:"quiet_hours_start" json:"quiet_hours_start"` // "22:00" local time, empty = unset
	QuietHoursEnd   string `mapstructure:"quiet_hours_end" json:"quiet_hours_end"`
}

// GoalsConfig defines the daily usage budget
type GoalsConfig struct {
	Enabled              bool `mapstructure:"enabled" json:"enabled"`
	DailyBudgetPercent   int  `mapstructure:"daily_budget_percent" json:"daily_budget_percent"`
	WarnWhenPaceExceeded bool `mapstructure:"warn_when_pace_exceeded" json:"warn_when_pace_exceeded"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type" json:"type"` // "memory" or "redis"
	Redis RedisConfig `mapstructure:"redis" json:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	Password     string `mapstructure:"password" json:"password"`
	DB           int    `mapstructure:"db" json:"db"`
	PoolSize     int    `mapstructure:"pool_size" json:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" json:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix" json:"key_prefix"`
	SnapshotTTL  string `mapstructure:"snapshot_ttl" json:"snapshot_ttl"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// MetricsConfig defines the Prometheus endpoint exposed by the watch command
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	BindAddress string `mapstructure:"bind_address" json:"bind_address"`
	Port        int    `mapstructure:"port" json:"port"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// LockPath returns the single-instance lock file location.
func LockPath() string {
	return filepath.Join(Dir(), ".lock")
}

// Dir returns the per-user config directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName)
}

// Load loads configuration from file and environment variables.
// A missing file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	// .env is optional and never overrides variables already set
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("toml")
	}
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	_ = validate(&cfg)

	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	// General defaults
	v.SetDefault("language", "en")
	v.SetDefault("poll_interval", "60s")
	v.SetDefault("credentials_path", filepath.Join(home, ".claude", ".credentials.json"))

	// API defaults
	v.SetDefault("api.base_url", "https://api.anthropic.com")
	v.SetDefault("api.cache_duration", "60s")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.retries", 2)

	// Reminder defaults
	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.before_reset_minutes", []int{15, 30, 60})
	v.SetDefault("reminder.on_reset", true)
	v.SetDefault("reminder.percentage_thresholds", []int{50, 75, 90, 100})
	v.SetDefault("reminder.snooze_minutes", []int{5, 15, 30})
	v.SetDefault("reminder.custom_command", "")
	v.SetDefault("reminder.custom_url", "")
	v.SetDefault("reminder.channels", []string{"system"})

	// Focus mode defaults
	v.SetDefault("focus_mode.enabled", false)
	v.SetDefault("focus_mode.dnd_threshold", 80)
	v.SetDefault("focus_mode.quiet_hours_start", "")
	v.SetDefault("focus_mode.quiet_hours_end", "")

	// Goals defaults
	v.SetDefault("goals.enabled", false)
	v.SetDefault("goals.daily_budget_percent", 100)
	v.SetDefault("goals.warn_when_pace_exceeded", true)

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", AppName)
	v.SetDefault("storage.redis.snapshot_ttl", "720h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9477)
}

// validate validates and normalizes the configuration
func validate(cfg *Config) error {
	if d, err := time.ParseDuration(cfg.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid poll_interval: %q", cfg.PollInterval)
	}

	// Thresholds are evaluated in ascending order, so keep them sorted and unique
	thresholds, err := normalizeInts(cfg.Reminder.PercentageThresholds, 0, 100)
	if err != nil {
		return fmt.Errorf("invalid reminder.percentage_thresholds: %w", err)
	}
	cfg.Reminder.PercentageThresholds = thresholds

	for _, m := range cfg.Reminder.BeforeResetMinutes {
		if m <= 0 {
			return fmt.Errorf("invalid reminder.before_reset_minutes: %d must be positive", m)
		}
	}
	for _, m := range cfg.Reminder.SnoozeMinutes {
		if m <= 0 {
			return fmt.Errorf("invalid reminder.snooze_minutes: %d must be positive", m)
		}
	}

	for _, ch := range cfg.Reminder.Channels {
		switch strings.ToLower(ch) {
		case "system", "bell", "command", "url":
		default:
			return fmt.Errorf("invalid reminder.channels entry: %q", ch)
		}
	}

	if cfg.FocusMode.DNDThreshold < 0 || cfg.FocusMode.DNDThreshold > 100 {
		return fmt.Errorf("invalid focus_mode.dnd_threshold: %d", cfg.FocusMode.DNDThreshold)
	}
	if cfg.FocusMode.QuietHoursStart != "" {
		if _, err := ParseTimeOfDay(cfg.FocusMode.QuietHoursStart); err != nil {
			return fmt.Errorf("invalid focus_mode.quiet_hours_start: %w", err)
		}
	}
	if cfg.FocusMode.QuietHoursEnd != "" {
		if _, err := ParseTimeOfDay(cfg.FocusMode.QuietHoursEnd); err != nil {
			return fmt.Errorf("invalid focus_mode.quiet_hours_end: %w", err)
		}
	}

	if cfg.Goals.DailyBudgetPercent <= 0 || cfg.Goals.DailyBudgetPercent > 100 {
		return fmt.Errorf("invalid goals.daily_budget_percent: %d", cfg.Goals.DailyBudgetPercent)
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.API.Retries < 0 {
		return fmt.Errorf("invalid api.retries: %d", cfg.API.Retries)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'memory' or 'redis')", cfg.Storage.Type)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", cfg.Logging.Level)
	}

	cfg.CredentialsPath = ExpandHome(cfg.CredentialsPath)

	return nil
}

// normalizeInts sorts and deduplicates values, rejecting anything outside [min, max].
func normalizeInts(values []int, min, max int) ([]int, error) {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if v < min || v > max {
			return nil, fmt.Errorf("%d is outside %d-%d", v, min, max)
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from local midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
