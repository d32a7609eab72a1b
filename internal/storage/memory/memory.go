package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/usageminder/internal/storage"
)

// maxSnapshots bounds the in-process history.
const maxSnapshots = 2048

// Store implements storage.Store in process memory. Nothing survives a restart.
type Store struct {
	mu           sync.RWMutex
	snapshots    []storage.Snapshot
	snoozedUntil *time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return (*usageStore)(s)
}

// Focus returns the FocusStore implementation
func (s *Store) Focus() storage.FocusStore {
	return (*focusStore)(s)
}

type usageStore Store

func (u *usageStore) RecordSnapshot(_ context.Context, snapshot storage.Snapshot) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.snapshots = append(u.snapshots, snapshot)
	if len(u.snapshots) > maxSnapshots {
		u.snapshots = u.snapshots[len(u.snapshots)-maxSnapshots:]
	}
	return nil
}

func (u *usageStore) LatestSnapshot(_ context.Context) (*storage.Snapshot, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if len(u.snapshots) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := u.snapshots[0]
	for _, s := range u.snapshots[1:] {
		if s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return &latest, nil
}

func (u *usageStore) ListSnapshots(_ context.Context, date string) ([]storage.Snapshot, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := []storage.Snapshot{}
	for _, s := range u.snapshots {
		if s.Date() == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type focusStore Store

func (f *focusStore) SetSnoozedUntil(_ context.Context, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snoozedUntil = &until
	return nil
}

func (f *focusStore) GetSnoozedUntil(_ context.Context) (time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snoozedUntil == nil {
		return time.Time{}, storage.ErrNotFound
	}
	return *f.snoozedUntil, nil
}

func (f *focusStore) ClearSnooze(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snoozedUntil = nil
	return nil
}
