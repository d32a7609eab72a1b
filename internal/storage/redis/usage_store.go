package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/usageminder/internal/storage"
)

type usageStore struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
	script *redis.Script
}

// RecordSnapshot stores a usage sample and indexes it by local date
func (s *usageStore) RecordSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	id := snapshot.Timestamp.UnixMilli()

	keys := []string{
		s.keys.snapshot(id),
		s.keys.dailyIndex(snapshot.Date()),
		s.keys.latest(),
	}
	args := []interface{}{
		id,
		snapshot.Timestamp.Format(time.RFC3339Nano),
		strconv.FormatFloat(snapshot.Utilization, 'f', -1, 64),
		formatResetsAt(snapshot.ResetsAt),
		int64(s.ttl.Seconds()),
	}

	return s.script.Run(ctx, s.client, keys, args...).Err()
}

// LatestSnapshot returns the newest recorded sample
func (s *usageStore) LatestSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.keys.latest()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}

	data, err := s.client.HGetAll(ctx, s.keys.snapshot(id)).Result()
	if err != nil {
		return nil, err
	}

	// Pointer may outlive an expired snapshot
	return parseSnapshot(data)
}

// ListSnapshots returns all samples for a date in chronological order
func (s *usageStore) ListSnapshots(ctx context.Context, date string) ([]storage.Snapshot, error) {
	ids, err := s.client.ZRange(ctx, s.keys.dailyIndex(date), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Snapshot{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))

	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		cmds = append(cmds, pipe.HGetAll(ctx, s.keys.snapshot(id)))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	snapshots := make([]storage.Snapshot, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		snapshot, err := parseSnapshot(data)
		if err == nil {
			snapshots = append(snapshots, *snapshot)
		}
	}

	return snapshots, nil
}
