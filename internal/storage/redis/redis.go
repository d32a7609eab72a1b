package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/storage"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	usageStore *usageStore
	focusStore *focusStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	var snapshotTTL time.Duration
	if cfg.SnapshotTTL != "" {
		snapshotTTL, err = time.ParseDuration(cfg.SnapshotTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot_ttl: %w", err)
		}
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = config.AppName
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keys := keyspace(prefix)
	store := &Store{
		client:     client,
		usageStore: &usageStore{client: client, keys: keys, ttl: snapshotTTL, script: redis.NewScript(recordSnapshotScript)},
		focusStore: &focusStore{client: client, keys: keys},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Focus returns the FocusStore implementation
func (s *Store) Focus() storage.FocusStore {
	return s.focusStore
}

// keyspace builds every key under one prefix.
type keyspace string

func (k keyspace) snapshot(id int64) string {
	return fmt.Sprintf("%s:snapshot:%d", k, id)
}

func (k keyspace) latest() string {
	return fmt.Sprintf("%s:snapshot:latest", k)
}

func (k keyspace) dailyIndex(date string) string {
	return fmt.Sprintf("%s:snapshots:daily:%s", k, date)
}

func (k keyspace) snoozedUntil() string {
	return fmt.Sprintf("%s:focus:snoozed_until", k)
}
