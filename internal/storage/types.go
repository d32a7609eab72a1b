package storage

import (
	"time"
)

// DateFormat is the key format for daily snapshot indexes.
const DateFormat = "2006-01-02"

// Snapshot is one observed usage sample.
type Snapshot struct {
	Timestamp   time.Time  `json:"timestamp"`
	Utilization float64    `json:"utilization"` // 0-100
	ResetsAt    *time.Time `json:"resets_at,omitempty"`
}

// Date returns the local calendar day the snapshot belongs to.
func (s Snapshot) Date() string {
	return s.Timestamp.Local().Format(DateFormat)
}
