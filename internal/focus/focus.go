package focus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/storage"
)

// Reason identifies which suppression condition matched.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonSnoozed    Reason = "snoozed"
	ReasonQuietHours Reason = "quiet_hours"
	ReasonDND        Reason = "dnd"
)

// storeTimeout bounds write-through calls to the focus store.
const storeTimeout = 2 * time.Second

// State is a display snapshot of the policy for one usage value.
type State struct {
	IsSnoozed               bool       `json:"is_snoozed"`
	SnoozedUntil            *time.Time `json:"snoozed_until,omitempty"`
	SnoozeRemaining         int        `json:"snooze_remaining"`
	IsQuietHours            bool       `json:"is_quiet_hours"`
	IsDND                   bool       `json:"is_dnd"`
	NotificationsSuppressed bool       `json:"notifications_suppressed"`
	Reason                  string     `json:"reason,omitempty"`
}

// Policy decides whether notifications are suppressed by snooze,
// quiet hours or usage-based do-not-disturb.
type Policy struct {
	config config.Provider
	clock  clock.Clock
	store  storage.FocusStore // optional
	logger zerolog.Logger

	mu           sync.RWMutex
	snoozedUntil *time.Time
}

// NewPolicy creates a suppression policy. store may be nil.
func NewPolicy(cfg config.Provider, clk clock.Clock, store storage.FocusStore, logger zerolog.Logger) *Policy {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Policy{
		config: cfg,
		clock:  clk,
		store:  store,
		logger: logger.With().Str("component", "focus").Logger(),
	}
}

// Restore loads a persisted snooze deadline.
func (p *Policy) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	until, err := p.store.GetSnoozedUntil(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		p.mu.Lock()
		p.snoozedUntil = nil
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore snooze: %w", err)
	}

	p.mu.Lock()
	p.snoozedUntil = &until
	p.mu.Unlock()

	p.logger.Debug().Time("snoozed_until", until).Msg("Restored snooze")
	return nil
}

// Snooze suppresses notifications for the given number of minutes.
func (p *Policy) Snooze(minutes int) {
	until := p.clock.Now().Add(time.Duration(minutes) * time.Minute)

	p.mu.Lock()
	p.snoozedUntil = &until
	p.mu.Unlock()

	p.logger.Info().Int("minutes", minutes).Time("until", until).Msg("Notifications snoozed")

	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.store.SetSnoozedUntil(ctx, until); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to persist snooze")
		}
	}
}

// ClearSnooze cancels any active snooze.
func (p *Policy) ClearSnooze() {
	p.mu.Lock()
	p.snoozedUntil = nil
	p.mu.Unlock()

	p.logger.Info().Msg("Snooze cleared")

	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := p.store.ClearSnooze(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to clear persisted snooze")
		}
	}
}

// SnoozedUntil returns the snooze deadline, expired or not.
func (p *Policy) SnoozedUntil() *time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snoozedUntil == nil {
		return nil
	}
	until := *p.snoozedUntil
	return &until
}

// IsSnoozed reports whether a snooze deadline is in the future.
func (p *Policy) IsSnoozed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snoozedUntil != nil && p.clock.Now().Before(*p.snoozedUntil)
}

// SnoozeRemainingSeconds returns whole seconds left on the snooze, or 0.
func (p *Policy) SnoozeRemainingSeconds() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snoozedUntil == nil {
		return 0
	}
	remaining := p.snoozedUntil.Sub(p.clock.Now())
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// IsInQuietHours reports whether local time falls in the quiet window.
// A start later than the end wraps midnight.
func (p *Policy) IsInQuietHours() bool {
	fm := p.config.Current().FocusMode
	if !fm.Enabled || fm.QuietHoursStart == "" || fm.QuietHoursEnd == "" {
		return false
	}

	start, err := config.ParseTimeOfDay(fm.QuietHoursStart)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Ignoring invalid quiet hours start")
		return false
	}
	end, err := config.ParseTimeOfDay(fm.QuietHoursEnd)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Ignoring invalid quiet hours end")
		return false
	}

	now := p.clock.Now()
	tod := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second

	if start > end {
		return tod >= start || tod <= end
	}
	return tod >= start && tod <= end
}

// IsDNDByUsage reports whether usage is above the DND threshold.
func (p *Policy) IsDNDByUsage(usage float64) bool {
	fm := p.config.Current().FocusMode
	if !fm.Enabled {
		return false
	}
	return usage > float64(fm.DNDThreshold)
}

// ShouldSuppress reports whether notifications are currently blocked.
func (p *Policy) ShouldSuppress(usage float64) bool {
	return p.IsSnoozed() || p.IsInQuietHours() || p.IsDNDByUsage(usage)
}

// SuppressionReason explains the first matching condition, checked in
// the same order as ShouldSuppress.
func (p *Policy) SuppressionReason(usage float64) (Reason, string) {
	if p.IsSnoozed() {
		return ReasonSnoozed, fmt.Sprintf("Snoozed for %d more minutes", p.SnoozeRemainingSeconds()/60)
	}
	if p.IsInQuietHours() {
		fm := p.config.Current().FocusMode
		return ReasonQuietHours, fmt.Sprintf("Quiet hours (%s - %s)", fm.QuietHoursStart, fm.QuietHoursEnd)
	}
	if p.IsDNDByUsage(usage) {
		return ReasonDND, fmt.Sprintf("DND active (usage > %d%%)", p.config.Current().FocusMode.DNDThreshold)
	}
	return ReasonNone, ""
}

// State returns the policy's display snapshot for usage.
func (p *Policy) State(usage float64) State {
	reason, msg := p.SuppressionReason(usage)
	return State{
		IsSnoozed:               p.IsSnoozed(),
		SnoozedUntil:            p.SnoozedUntil(),
		SnoozeRemaining:         p.SnoozeRemainingSeconds(),
		IsQuietHours:            p.IsInQuietHours(),
		IsDND:                   p.IsDNDByUsage(usage),
		NotificationsSuppressed: reason != ReasonNone,
		Reason:                  msg,
	}
}
