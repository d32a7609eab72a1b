package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/usageminder/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the usageminder configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return exitError{code: 1}
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stdout, "ℹ️  No configuration file at %s, using defaults\n", configPath)
	} else {
		// Check for unknown keys (always, not just with --dump)
		unknownKeys, err := findUnknownKeys(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
		}

		_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

		// Warn about unknown keys
		if len(unknownKeys) > 0 {
			red := color.New(color.FgRed, color.Bold)
			fmt.Fprintln(os.Stdout)
			_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
			for _, key := range unknownKeys {
				_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
			}
			fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
		}
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Default())

		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns every key that has a default
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	dumpField("language", cfg.Language, defaultCfg.Language, yellow, green)
	dumpField("poll_interval", cfg.PollInterval, defaultCfg.PollInterval, yellow, green)
	dumpField("credentials_path", cfg.CredentialsPath, defaultCfg.CredentialsPath, yellow, green)

	// API
	_, _ = cyan.Println("\n[api]")
	dumpField("  base_url", cfg.API.BaseURL, defaultCfg.API.BaseURL, yellow, green)
	dumpField("  cache_duration", cfg.API.CacheDuration, defaultCfg.API.CacheDuration, yellow, green)
	dumpField("  timeout", cfg.API.Timeout, defaultCfg.API.Timeout, yellow, green)
	dumpField("  retries", cfg.API.Retries, defaultCfg.API.Retries, yellow, green)

	// Reminder
	_, _ = cyan.Println("\n[reminder]")
	dumpField("  enabled", cfg.Reminder.Enabled, defaultCfg.Reminder.Enabled, yellow, green)
	dumpField("  before_reset_minutes", cfg.Reminder.BeforeResetMinutes, defaultCfg.Reminder.BeforeResetMinutes, yellow, green)
	dumpField("  on_reset", cfg.Reminder.OnReset, defaultCfg.Reminder.OnReset, yellow, green)
	dumpField("  percentage_thresholds", cfg.Reminder.PercentageThresholds, defaultCfg.Reminder.PercentageThresholds, yellow, green)
	dumpField("  snooze_minutes", cfg.Reminder.SnoozeMinutes, defaultCfg.Reminder.SnoozeMinutes, yellow, green)
	dumpField("  custom_command", cfg.Reminder.CustomCommand, defaultCfg.Reminder.CustomCommand, yellow, green)
	dumpField("  custom_url", cfg.Reminder.CustomURL, defaultCfg.Reminder.CustomURL, yellow, green)
	dumpField("  channels", cfg.Reminder.Channels, defaultCfg.Reminder.Channels, yellow, green)

	// Focus mode
	_, _ = cyan.Println("\n[focus_mode]")
	dumpField("  enabled", cfg.FocusMode.Enabled, defaultCfg.FocusMode.Enabled, yellow, green)
	dumpField("  dnd_threshold", cfg.FocusMode.DNDThreshold, defaultCfg.FocusMode.DNDThreshold, yellow, green)
	dumpField("  quiet_hours_start", cfg.FocusMode.QuietHoursStart, defaultCfg.FocusMode.QuietHoursStart, yellow, green)
	dumpField("  quiet_hours_end", cfg.FocusMode.QuietHoursEnd, defaultCfg.FocusMode.QuietHoursEnd, yellow, green)

	// Goals
	_, _ = cyan.Println("\n[goals]")
	dumpField("  enabled", cfg.Goals.Enabled, defaultCfg.Goals.Enabled, yellow, green)
	dumpField("  daily_budget_percent", cfg.Goals.DailyBudgetPercent, defaultCfg.Goals.DailyBudgetPercent, yellow, green)
	dumpField("  warn_when_pace_exceeded", cfg.Goals.WarnWhenPaceExceeded, defaultCfg.Goals.WarnWhenPaceExceeded, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	dumpField("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix, yellow, green)
	dumpField("    snapshot_ttl", cfg.Storage.Redis.SnapshotTTL, defaultCfg.Storage.Redis.SnapshotTTL, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Metrics
	_, _ = cyan.Println("\n[metrics]")
	dumpField("  enabled", cfg.Metrics.Enabled, defaultCfg.Metrics.Enabled, yellow, green)
	dumpField("  bind_address", cfg.Metrics.BindAddress, defaultCfg.Metrics.BindAddress, yellow, green)
	dumpField("  port", cfg.Metrics.Port, defaultCfg.Metrics.Port, yellow, green)
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
