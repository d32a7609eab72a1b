package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/credentials"
	"github.com/goodtune/usageminder/internal/focus"
	"github.com/goodtune/usageminder/internal/goals"
	"github.com/goodtune/usageminder/internal/notify"
	"github.com/goodtune/usageminder/internal/reminder"
	"github.com/goodtune/usageminder/internal/storage"
	"github.com/goodtune/usageminder/internal/storage/memory"
	"github.com/goodtune/usageminder/internal/storage/redis"
	"github.com/goodtune/usageminder/internal/usage"
)

// configCacheTTL bounds how stale a running process's view of the config
// file may get after an external edit.
const configCacheTTL = 5 * time.Second

// app holds the components shared by every command.
type app struct {
	config      *config.FileProvider
	credentials *credentials.Source
	client      *usage.Client
	store       storage.Store
	policy      *focus.Policy
	tracker     *goals.Tracker
	engine      *reminder.Engine
	notifier    *notify.Async
	logger      zerolog.Logger
}

// newApp wires the components for cfg.
func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	provider := config.NewFileProvider(configPath, configCacheTTL, cfg, logger)
	clk := clock.RealClock{}

	creds := credentials.NewSource(config.ExpandHome(cfg.CredentialsPath), logger)
	client := usage.NewClient(usage.Options{
		BaseURL:       cfg.API.BaseURL,
		Version:       version,
		Timeout:       parseDuration(cfg.API.Timeout, usage.DefaultTimeout),
		CacheDuration: parseDuration(cfg.API.CacheDuration, time.Minute),
		Retries:       cfg.API.Retries,
	}, creds, logger)

	policy := focus.NewPolicy(provider, clk, store.Focus(), logger)
	notifier := notify.NewAsync(notify.NewSink(provider, logger), 0)

	return &app{
		config:      provider,
		credentials: creds,
		client:      client,
		store:       store,
		policy:      policy,
		tracker:     goals.NewTracker(provider, clk),
		engine:      reminder.NewEngine(provider, policy, notifier, clk, logger),
		notifier:    notifier,
		logger:      logger,
	}, nil
}

// Close releases storage.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close storage")
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "memory"
	}

	switch storageType {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
