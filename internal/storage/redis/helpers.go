package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/usageminder/internal/storage"
)

// parseSnapshot converts a Redis hash to Snapshot
func parseSnapshot(data map[string]string) (*storage.Snapshot, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	timestamp, err := time.Parse(time.RFC3339Nano, data["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	utilization, err := strconv.ParseFloat(data["utilization"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse utilization: %w", err)
	}

	snapshot := &storage.Snapshot{
		Timestamp:   timestamp,
		Utilization: utilization,
	}

	if raw := data["resets_at"]; raw != "" {
		resetsAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse resets_at: %w", err)
		}
		snapshot.ResetsAt = &resetsAt
	}

	return snapshot, nil
}

// formatResetsAt renders an optional reset time for storage
func formatResetsAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
