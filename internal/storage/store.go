package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Focus() FocusStore
}

// UsageStore keeps a history of polled usage samples.
type UsageStore interface {
	RecordSnapshot(ctx context.Context, snapshot Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	ListSnapshots(ctx context.Context, date string) ([]Snapshot, error)
}

// FocusStore persists the snooze deadline so separate processes share it.
type FocusStore interface {
	SetSnoozedUntil(ctx context.Context, until time.Time) error
	GetSnoozedUntil(ctx context.Context) (time.Time, error)
	ClearSnooze(ctx context.Context) error
}
