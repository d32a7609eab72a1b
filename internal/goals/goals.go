package goals

import (
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
)

// paceSlack is the tolerance applied to expected usage before pace counts as exceeded.
const paceSlack = 1.1

// PaceResult compares actual usage with the linear daily projection.
// An empty Message means goals are disabled and nothing should be shown.
type PaceResult struct {
	IsOnTrack     bool    `json:"is_on_track"`
	CurrentUsage  float64 `json:"current_usage"`
	ExpectedUsage float64 `json:"expected_usage"`
	Message       string  `json:"message"`
}

// Tracker evaluates usage against the configured daily budget.
type Tracker struct {
	config config.Provider
	clock  clock.Clock

	mu        sync.RWMutex
	resetTime *time.Time
}

// NewTracker creates a goals tracker.
func NewTracker(cfg config.Provider, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{config: cfg, clock: clk}
}

// SetResetTime records the next usage reset for display.
func (t *Tracker) SetResetTime(reset *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetTime = reset
}

// ResetTime returns the last reset hint, if any.
func (t *Tracker) ResetTime() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resetTime
}

// Calculate returns the pace for currentUsage (0-100).
func (t *Tracker) Calculate(currentUsage float64) PaceResult {
	goals := t.config.Current().Goals
	if !goals.Enabled {
		return PaceResult{IsOnTrack: true, CurrentUsage: currentUsage}
	}

	now := t.clock.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	hoursElapsed := now.Sub(startOfDay).Hours()

	expected := (hoursElapsed / 24) * float64(goals.DailyBudgetPercent)
	onTrack := currentUsage <= expected*paceSlack

	var msg string
	if onTrack {
		msg = fmt.Sprintf("On track: %.1f%% / %.1f%% expected", currentUsage, expected)
	} else {
		msg = fmt.Sprintf("Pace exceeded by %.1f%%", currentUsage-expected)
	}

	return PaceResult{
		IsOnTrack:     onTrack,
		CurrentUsage:  currentUsage,
		ExpectedUsage: expected,
		Message:       msg,
	}
}

// BudgetStatus returns usage against the daily budget (100 when goals are off).
func (t *Tracker) BudgetStatus(currentUsage float64) (used, budget float64, exceeded bool) {
	goals := t.config.Current().Goals
	budget = 100
	if goals.Enabled {
		budget = float64(goals.DailyBudgetPercent)
	}
	return currentUsage, budget, currentUsage > budget
}

// ShouldWarn reports whether a pace warning is due.
func (t *Tracker) ShouldWarn(currentUsage float64) bool {
	goals := t.config.Current().Goals
	if !goals.Enabled || !goals.WarnWhenPaceExceeded {
		return false
	}
	return !t.Calculate(currentUsage).IsOnTrack
}
