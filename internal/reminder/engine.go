package reminder

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/focus"
	"github.com/goodtune/usageminder/internal/metrics"
	"github.com/goodtune/usageminder/internal/notify"
)

// Title is the notification title for every reminder.
const Title = "Usageminder"

// Type identifies why a reminder fired.
type Type string

const (
	TypePercentage  Type = "percentage"
	TypeBeforeReset Type = "before_reset"
	TypeOnReset     Type = "on_reset"
)

// Event is one triggered reminder.
type Event struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// Callback observes triggered reminders. Panics are recovered and logged.
type Callback func(t Type, message string)

// CallbackID identifies a registered callback for removal.
type CallbackID uint64

// Suppressor is the focus-mode view the engine needs.
type Suppressor interface {
	ShouldSuppress(usage float64) bool
	SuppressionReason(usage float64) (focus.Reason, string)
	Snooze(minutes int)
}

// State is a copy of the engine's dedup bookkeeping.
type State struct {
	TriggeredPercentages []int      `json:"triggered_percentages"`
	TriggeredBeforeReset []int      `json:"triggered_before_reset"`
	ResetTriggered       bool       `json:"reset_triggered"`
	LastResetTime        *time.Time `json:"last_reset_time,omitempty"`
}

type registeredCallback struct {
	id CallbackID
	fn Callback
}

// Engine turns usage samples into deduplicated reminder events.
//
// A percentage threshold or before-reset offset fires at most once until
// ResetTriggers is called. Crossing into a new reset cycle fires the
// on-reset event but does not clear the other dedup sets.
type Engine struct {
	config     config.Provider
	suppressor Suppressor
	notifier   notify.Notifier
	clock      clock.Clock
	logger     zerolog.Logger

	mu                   sync.Mutex
	triggeredPercentages map[int]struct{}
	triggeredBeforeReset map[int]struct{}
	resetTriggered       bool
	lastResetTime        *time.Time
	callbacks            []registeredCallback
	nextID               CallbackID
}

// NewEngine creates a reminder engine. suppressor and notifier may be nil.
func NewEngine(cfg config.Provider, suppressor Suppressor, notifier notify.Notifier, clk clock.Clock, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		config:               cfg,
		suppressor:           suppressor,
		notifier:             notifier,
		clock:                clk,
		logger:               logger.With().Str("component", "reminder").Logger(),
		triggeredPercentages: make(map[int]struct{}),
		triggeredBeforeReset: make(map[int]struct{}),
	}
}

// CheckAndTrigger evaluates one usage sample (0-100) and an optional reset
// time, returning newly triggered events in order: percentage thresholds
// ascending, before-reset offsets in configured order, then on-reset.
// Each event is also sent to the notifier and every callback.
func (e *Engine) CheckAndTrigger(ctx context.Context, currentUsage float64, resetTime *time.Time) []Event {
	cfg := e.config.Current().Reminder
	if !cfg.Enabled {
		return nil
	}

	// Suppression leaves dedup state untouched so owed reminders fire later
	if e.suppressor != nil && e.suppressor.ShouldSuppress(currentUsage) {
		reason, msg := e.suppressor.SuppressionReason(currentUsage)
		metrics.ChecksSuppressed.WithLabelValues(string(reason)).Inc()
		e.logger.Debug().Str("reason", msg).Float64("usage", currentUsage).Msg("Notifications suppressed")
		return nil
	}

	e.mu.Lock()
	events := e.evaluate(cfg, currentUsage, resetTime)
	callbacks := make([]registeredCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	channels := notify.ParseChannels(cfg.Channels)
	for _, ev := range events {
		metrics.RemindersTriggered.WithLabelValues(string(ev.Type)).Inc()
		if e.notifier != nil {
			e.notifier.Send(ctx, Title, ev.Message, channels...)
		}
		e.notifyCallbacks(callbacks, ev)
	}

	return events
}

// evaluate mutates dedup state and collects events. Caller holds mu.
func (e *Engine) evaluate(cfg config.ReminderConfig, currentUsage float64, resetTime *time.Time) []Event {
	var events []Event

	thresholds := append([]int(nil), cfg.PercentageThresholds...)
	sort.Ints(thresholds)
	for _, threshold := range thresholds {
		if _, done := e.triggeredPercentages[threshold]; done {
			continue
		}
		if currentUsage >= float64(threshold) {
			e.triggeredPercentages[threshold] = struct{}{}
			events = append(events, Event{Type: TypePercentage, Message: fmt.Sprintf("Usage reached %d%%", threshold)})
			e.logger.Info().Int("threshold", threshold).Msg("Triggered percentage reminder")
		}
	}

	if resetTime == nil {
		return events
	}

	minutesUntil := resetTime.Sub(e.clock.Now()).Minutes()
	for _, m := range cfg.BeforeResetMinutes {
		if _, done := e.triggeredBeforeReset[m]; done {
			continue
		}
		if minutesUntil > 0 && minutesUntil <= float64(m) {
			e.triggeredBeforeReset[m] = struct{}{}
			events = append(events, Event{
				Type:    TypeBeforeReset,
				Message: fmt.Sprintf("Token reset in %d minutes!", int(math.Floor(minutesUntil))),
			})
			e.logger.Info().Int("minutes", m).Msg("Triggered before-reset reminder")
		}
	}

	if cfg.OnReset && !e.resetTriggered && e.lastResetTime != nil && resetTime.After(*e.lastResetTime) {
		e.resetTriggered = true
		events = append(events, Event{Type: TypeOnReset, Message: "Your token has reset!"})
		e.logger.Info().Time("reset_time", *resetTime).Msg("Triggered on-reset reminder")
	}

	// Only a known reset time moves the baseline
	last := *resetTime
	e.lastResetTime = &last

	return events
}

func (e *Engine) notifyCallbacks(callbacks []registeredCallback, ev Event) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					metrics.CallbackPanics.Inc()
					e.logger.Error().Interface("panic", r).Uint64("callback", uint64(cb.id)).Msg("Reminder callback failed")
				}
			}()
			cb.fn(ev.Type, ev.Message)
		}()
	}
}

// ResetTriggers clears the dedup sets and the on-reset flag.
// The last reset time and callbacks are kept.
func (e *Engine) ResetTriggers() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.triggeredPercentages = make(map[int]struct{})
	e.triggeredBeforeReset = make(map[int]struct{})
	e.resetTriggered = false

	e.logger.Debug().Msg("Reminder triggers reset")
}

// AddCallback registers fn and returns a handle for RemoveCallback.
func (e *Engine) AddCallback(fn Callback) CallbackID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.callbacks = append(e.callbacks, registeredCallback{id: e.nextID, fn: fn})
	return e.nextID
}

// RemoveCallback unregisters id. Unknown ids are ignored.
func (e *Engine) RemoveCallback(id CallbackID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, cb := range e.callbacks {
		if cb.id == id {
			e.callbacks = append(e.callbacks[:i:i], e.callbacks[i+1:]...)
			return
		}
	}
}

// Snooze delegates to the suppression policy.
func (e *Engine) Snooze(minutes int) {
	if e.suppressor == nil {
		return
	}
	e.suppressor.Snooze(minutes)
	e.logger.Info().Int("minutes", minutes).Msg("Reminders snoozed")
}

// State returns a copy of the dedup bookkeeping.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		TriggeredPercentages: sortedKeys(e.triggeredPercentages),
		TriggeredBeforeReset: sortedKeys(e.triggeredBeforeReset),
		ResetTriggered:       e.resetTriggered,
	}
	if e.lastResetTime != nil {
		last := *e.lastResetTime
		st.LastResetTime = &last
	}
	return st
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
