package usage

import (
	"strings"
	"time"
)

// Response is the body returned by the OAuth usage endpoint.
type Response struct {
	FiveHour   *Window     `json:"five_hour"`
	ExtraUsage *ExtraUsage `json:"extra_usage,omitempty"`

	// Carried for display only
	SevenDay       *Window `json:"seven_day,omitempty"`
	SevenDayOpus   *Window `json:"seven_day_opus,omitempty"`
	SevenDaySonnet *Window `json:"seven_day_sonnet,omitempty"`
}

// Window is one rolling usage window.
type Window struct {
	Utilization float64 `json:"utilization"` // 0.0 - 1.0
	ResetsAt    string  `json:"resets_at"`   // ISO 8601
}

// Percent returns utilization on the 0-100 scale the reminder engine consumes.
func (w *Window) Percent() float64 {
	if w == nil {
		return 0
	}
	return w.Utilization * 100
}

// ResetTime parses ResetsAt. A missing or malformed value yields ok=false.
func (w *Window) ResetTime() (time.Time, bool) {
	if w == nil || w.ResetsAt == "" {
		return time.Time{}, false
	}
	return ParseResetTime(w.ResetsAt)
}

// ExtraUsage describes paid usage beyond the plan allowance.
type ExtraUsage struct {
	IsEnabled    bool     `json:"is_enabled"`
	MonthlyLimit *float64 `json:"monthly_limit,omitempty"`
	UsedCredits  *float64 `json:"used_credits,omitempty"`
	Utilization  *float64 `json:"utilization,omitempty"`
}

// ParseResetTime accepts RFC 3339 timestamps with or without fractional
// seconds, and the offset-less form some clients send, read as local time.
func ParseResetTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
