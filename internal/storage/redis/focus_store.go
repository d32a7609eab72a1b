package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/usageminder/internal/storage"
)

type focusStore struct {
	client *redis.Client
	keys   keyspace
}

// SetSnoozedUntil stores the snooze deadline; the key expires with it
func (s *focusStore) SetSnoozedUntil(ctx context.Context, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return s.ClearSnooze(ctx)
	}
	return s.client.Set(ctx, s.keys.snoozedUntil(), until.Format(time.RFC3339Nano), ttl).Err()
}

// GetSnoozedUntil returns the stored snooze deadline
func (s *focusStore) GetSnoozedUntil(ctx context.Context) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.keys.snoozedUntil()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// ClearSnooze removes any stored snooze deadline
func (s *focusStore) ClearSnooze(ctx context.Context) error {
	return s.client.Del(ctx, s.keys.snoozedUntil()).Err()
}
