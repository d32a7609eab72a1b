package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Save writes cfg to path as TOML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.MergeConfigMap(toMap(cfg)); err != nil {
		return fmt.Errorf("failed to build config map: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge applies a JSON patch on top of cfg and returns the validated result.
// Nested objects are merged key by key; everything else replaces the old value.
func Merge(cfg *Config, patch []byte) (*Config, error) {
	var updates map[string]interface{}
	if err := json.Unmarshal(patch, &updates); err != nil {
		return nil, fmt.Errorf("invalid config patch: %w", err)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var base map[string]interface{}
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}

	deepMerge(base, updates)

	merged, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var out Config
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("invalid config patch: %w", err)
	}
	if err := validate(&out); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &out, nil
}

func deepMerge(base, updates map[string]interface{}) {
	for key, value := range updates {
		if existing, ok := base[key].(map[string]interface{}); ok {
			if nested, ok := value.(map[string]interface{}); ok {
				deepMerge(existing, nested)
				continue
			}
		}
		base[key] = value
	}
}

// toMap lays cfg out under the same keys Load reads.
func toMap(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"language":         cfg.Language,
		"poll_interval":    cfg.PollInterval,
		"credentials_path": cfg.CredentialsPath,
		"api": map[string]interface{}{
			"base_url":       cfg.API.BaseURL,
			"cache_duration": cfg.API.CacheDuration,
			"timeout":        cfg.API.Timeout,
			"retries":        cfg.API.Retries,
		},
		"reminder": map[string]interface{}{
			"enabled":               cfg.Reminder.Enabled,
			"before_reset_minutes":  cfg.Reminder.BeforeResetMinutes,
			"on_reset":              cfg.Reminder.OnReset,
			"percentage_thresholds": cfg.Reminder.PercentageThresholds,
			"snooze_minutes":        cfg.Reminder.SnoozeMinutes,
			"custom_command":        cfg.Reminder.CustomCommand,
			"custom_url":            cfg.Reminder.CustomURL,
			"channels":              cfg.Reminder.Channels,
		},
		"focus_mode": map[string]interface{}{
			"enabled":           cfg.FocusMode.Enabled,
			"dnd_threshold":     cfg.FocusMode.DNDThreshold,
			"quiet_hours_start": cfg.FocusMode.QuietHoursStart,
			"quiet_hours_end":   cfg.FocusMode.QuietHoursEnd,
		},
		"goals": map[string]interface{}{
			"enabled":                 cfg.Goals.Enabled,
			"daily_budget_percent":    cfg.Goals.DailyBudgetPercent,
			"warn_when_pace_exceeded": cfg.Goals.WarnWhenPaceExceeded,
		},
		"storage": map[string]interface{}{
			"type": cfg.Storage.Type,
			"redis": map[string]interface{}{
				"host":           cfg.Storage.Redis.Host,
				"port":           cfg.Storage.Redis.Port,
				"password":       cfg.Storage.Redis.Password,
				"db":             cfg.Storage.Redis.DB,
				"pool_size":      cfg.Storage.Redis.PoolSize,
				"min_idle_conns": cfg.Storage.Redis.MinIdleConns,
				"dial_timeout":   cfg.Storage.Redis.DialTimeout,
				"read_timeout":   cfg.Storage.Redis.ReadTimeout,
				"write_timeout":  cfg.Storage.Redis.WriteTimeout,
				"key_prefix":     cfg.Storage.Redis.KeyPrefix,
				"snapshot_ttl":   cfg.Storage.Redis.SnapshotTTL,
			},
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"metrics": map[string]interface{}{
			"enabled":      cfg.Metrics.Enabled,
			"bind_address": cfg.Metrics.BindAddress,
			"port":         cfg.Metrics.Port,
		},
	}
}
