package goals

import (
	"math"
	"testing"
	"time"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
)

func setupTracker(t *testing.T, enabled bool, budget int, at time.Time) *Tracker {
	t.Helper()

	cfg := config.Default()
	cfg.Goals.Enabled = enabled
	cfg.Goals.DailyBudgetPercent = budget
	return NewTracker(config.Static{Config: cfg}, clock.NewTestClock(at))
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.Local)
}

func TestCalculate_Disabled(t *testing.T) {
	tr := setupTracker(t, false, 100, at(12, 0))

	result := tr.Calculate(95)
	if !result.IsOnTrack {
		t.Error("Expected on track when goals disabled")
	}
	if result.ExpectedUsage != 0 {
		t.Errorf("Expected expected usage 0, got %v", result.ExpectedUsage)
	}
	if result.Message != "" {
		t.Errorf("Expected empty message, got %q", result.Message)
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name         string
		now          time.Time
		budget       int
		usage        float64
		wantExpected float64
		wantOnTrack  bool
		wantMessage  string
	}{
		{
			name:         "start of day with nonzero usage is exceeded",
			now:          at(0, 0),
			budget:       100,
			usage:        10,
			wantExpected: 0,
			wantOnTrack:  false,
			wantMessage:  "Pace exceeded by 10.0%",
		},
		{
			name:         "start of day with zero usage is on track",
			now:          at(0, 0),
			budget:       100,
			usage:        0,
			wantExpected: 0,
			wantOnTrack:  true,
			wantMessage:  "On track: 0.0% / 0.0% expected",
		},
		{
			name:         "noon half budget",
			now:          at(12, 0),
			budget:       100,
			usage:        40,
			wantExpected: 50,
			wantOnTrack:  true,
			wantMessage:  "On track: 40.0% / 50.0% expected",
		},
		{
			name:         "within ten percent slack",
			now:          at(12, 0),
			budget:       100,
			usage:        55,
			wantExpected: 50,
			wantOnTrack:  true,
			wantMessage:  "On track: 55.0% / 50.0% expected",
		},
		{
			name:         "beyond slack",
			now:          at(12, 0),
			budget:       100,
			usage:        56,
			wantExpected: 50,
			wantOnTrack:  false,
			wantMessage:  "Pace exceeded by 6.0%",
		},
		{
			name:         "smaller budget",
			now:          at(6, 0),
			budget:       40,
			usage:        5,
			wantExpected: 10,
			wantOnTrack:  true,
			wantMessage:  "On track: 5.0% / 10.0% expected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := setupTracker(t, true, tt.budget, tt.now)

			result := tr.Calculate(tt.usage)
			if math.Abs(result.ExpectedUsage-tt.wantExpected) > 1e-9 {
				t.Errorf("Expected expected usage %v, got %v", tt.wantExpected, result.ExpectedUsage)
			}
			if result.IsOnTrack != tt.wantOnTrack {
				t.Errorf("Expected on track %v, got %v", tt.wantOnTrack, result.IsOnTrack)
			}
			if result.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, result.Message)
			}
			if result.CurrentUsage != tt.usage {
				t.Errorf("Expected current usage %v, got %v", tt.usage, result.CurrentUsage)
			}
		})
	}
}

func TestBudgetStatus(t *testing.T) {
	tests := []struct {
		name         string
		enabled      bool
		budget       int
		usage        float64
		wantBudget   float64
		wantExceeded bool
	}{
		{"disabled uses 100", false, 30, 50, 100, false},
		{"enabled under", true, 60, 50, 60, false},
		{"enabled over", true, 40, 50, 40, true},
		{"equal is not exceeded", true, 50, 50, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := setupTracker(t, tt.enabled, tt.budget, at(12, 0))

			used, budget, exceeded := tr.BudgetStatus(tt.usage)
			if used != tt.usage {
				t.Errorf("Expected used %v, got %v", tt.usage, used)
			}
			if budget != tt.wantBudget {
				t.Errorf("Expected budget %v, got %v", tt.wantBudget, budget)
			}
			if exceeded != tt.wantExceeded {
				t.Errorf("Expected exceeded %v, got %v", tt.wantExceeded, exceeded)
			}
		})
	}
}

func TestShouldWarn(t *testing.T) {
	cfg := config.Default()
	cfg.Goals.Enabled = true
	cfg.Goals.DailyBudgetPercent = 100
	cfg.Goals.WarnWhenPaceExceeded = true
	tr := NewTracker(config.Static{Config: cfg}, clock.NewTestClock(at(12, 0)))

	if !tr.ShouldWarn(80) {
		t.Error("Expected warning when pace exceeded")
	}
	if tr.ShouldWarn(20) {
		t.Error("Expected no warning when on track")
	}

	cfg.Goals.WarnWhenPaceExceeded = false
	if tr.ShouldWarn(80) {
		t.Error("Expected no warning when warnings disabled")
	}

	cfg.Goals.WarnWhenPaceExceeded = true
	cfg.Goals.Enabled = false
	if tr.ShouldWarn(80) {
		t.Error("Expected no warning when goals disabled")
	}
}

func TestResetTimeHint(t *testing.T) {
	tr := setupTracker(t, true, 100, at(12, 0))
	if tr.ResetTime() != nil {
		t.Fatal("Expected no reset hint initially")
	}

	reset := at(15, 0)
	tr.SetResetTime(&reset)
	if got := tr.ResetTime(); got == nil || !got.Equal(reset) {
		t.Errorf("Expected reset hint %v, got %v", reset, got)
	}
}
