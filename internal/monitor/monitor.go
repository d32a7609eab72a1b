package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/focus"
	"github.com/goodtune/usageminder/internal/goals"
	"github.com/goodtune/usageminder/internal/metrics"
	"github.com/goodtune/usageminder/internal/reminder"
	"github.com/goodtune/usageminder/internal/storage"
	"github.com/goodtune/usageminder/internal/usage"
)

// Source is the usage fetcher the monitor polls.
type Source interface {
	Fetch(ctx context.Context) (*usage.Response, error)
	Refresh(ctx context.Context) (*usage.Response, error)
	TokenExpired() bool
}

// Status is the result of one poll cycle. On fetch failure the last
// successful values are kept and the error fields describe the failure.
type Status struct {
	FetchedAt    time.Time        `json:"fetched_at"`
	Response     *usage.Response  `json:"usage,omitempty"`
	Percent      float64          `json:"percent"`
	ResetsAt     *time.Time       `json:"resets_at,omitempty"`
	Pace         goals.PaceResult `json:"goals"`
	Budget       Budget           `json:"budget"`
	PaceWarn     bool             `json:"pace_warning"`
	Focus        focus.State      `json:"focus_mode"`
	Triggered    []reminder.Event `json:"triggered,omitempty"`
	Err          error            `json:"-"`
	ErrKind      usage.ErrorKind  `json:"error_kind,omitempty"`
	Offline      bool             `json:"offline"`
	TokenExpired bool             `json:"token_expired"`
	RateLimited  bool             `json:"rate_limited"`
	Restored     bool             `json:"restored"` // first success after being offline
}

// Budget is usage measured against the daily goal.
type Budget struct {
	Used     float64 `json:"used"`
	Limit    float64 `json:"limit"`
	Exceeded bool    `json:"exceeded"`
}

// HasData reports whether any successful poll has been recorded.
func (s Status) HasData() bool {
	return !s.FetchedAt.IsZero()
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration // per-poll fetch timeout
}

// Monitor drives the poll, decide, notify cycle on a schedule.
type Monitor struct {
	source  Source
	engine  *reminder.Engine
	tracker *goals.Tracker
	policy  *focus.Policy
	store   storage.UsageStore // optional
	clock   clock.Clock
	opts    Options
	logger  zerolog.Logger

	cron    *cron.Cron
	running sync.Mutex // one decision cycle at a time

	mu        sync.RWMutex
	last      Status
	listeners []func(Status)
}

// New creates a monitor. store may be nil.
func New(source Source, engine *reminder.Engine, tracker *goals.Tracker, policy *focus.Policy, store storage.UsageStore, clk clock.Clock, opts Options, logger zerolog.Logger) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Monitor{
		source:  source,
		engine:  engine,
		tracker: tracker,
		policy:  policy,
		store:   store,
		clock:   clk,
		opts:    opts,
		logger:  logger.With().Str("component", "monitor").Logger(),
	}
}

// Subscribe registers fn to receive every poll result.
func (m *Monitor) Subscribe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Last returns the most recent poll result.
func (m *Monitor) Last() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Health reports an error while the token is expired, for /health.
func (m *Monitor) Health() error {
	last := m.Last()
	if last.TokenExpired {
		return errors.New("token expired")
	}
	return nil
}

// Start seeds the last-known usage from storage, polls once immediately and
// then on every interval until Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.seed(ctx)

	logger := cronLogger{m.logger}
	m.cron = cron.New(
		cron.WithLocation(time.Local),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	schedule := fmt.Sprintf("@every %s", m.opts.Interval)
	if _, err := m.cron.AddFunc(schedule, func() { m.Poll(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	m.Poll(ctx)
	m.cron.Start()

	m.logger.Info().Dur("interval", m.opts.Interval).Msg("Usage monitor started")
	return nil
}

// Stop halts scheduling and returns a context that is done once a running
// poll has finished.
func (m *Monitor) Stop() context.Context {
	if m.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	m.logger.Info().Msg("Stopping usage monitor")
	return m.cron.Stop()
}

// seed loads the newest stored snapshot so a watcher that starts offline
// still has last-known usage to show.
func (m *Monitor) seed(ctx context.Context) {
	if m.store == nil {
		return
	}

	snapshot, err := m.store.LatestSnapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load last usage snapshot")
		return
	}

	status := Status{
		FetchedAt: snapshot.Timestamp,
		Percent:   snapshot.Utilization,
		ResetsAt:  snapshot.ResetsAt,
	}
	if m.tracker != nil {
		status.Pace = m.tracker.Calculate(status.Percent)
		status.Budget = m.budget(status.Percent)
	}

	m.mu.Lock()
	if !m.last.HasData() {
		m.last = status
	}
	m.mu.Unlock()

	m.logger.Debug().
		Time("fetched_at", snapshot.Timestamp).
		Float64("percent", snapshot.Utilization).
		Msg("Seeded last known usage from storage")
}

// Poll runs one fetch and decision cycle.
func (m *Monitor) Poll(ctx context.Context) Status {
	return m.poll(ctx, m.source.Fetch)
}

// Refresh is Poll with the fetch cache bypassed.
func (m *Monitor) Refresh(ctx context.Context) Status {
	return m.poll(ctx, m.source.Refresh)
}

func (m *Monitor) poll(ctx context.Context, fetch func(context.Context) (*usage.Response, error)) Status {
	if !m.running.TryLock() {
		m.logger.Debug().Msg("Poll already in progress, skipping")
		return m.Last()
	}
	defer m.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	if m.policy != nil {
		if err := m.policy.Restore(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to sync snooze state")
		}
	}

	prev := m.Last()

	resp, err := fetch(ctx)
	var status Status
	if err != nil {
		status = m.failed(prev, err)
	} else {
		status = m.decide(ctx, resp)
		status.Restored = prev.Offline
		if status.Restored {
			m.logger.Info().Msg("Connection restored")
		}
	}

	m.mu.Lock()
	m.last = status
	listeners := make([]func(Status), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
	return status
}

// failed keeps the last-known values and records why this poll failed.
func (m *Monitor) failed(prev Status, err error) Status {
	status := prev
	status.Triggered = nil
	status.Restored = false
	status.Err = err
	status.ErrKind = usage.KindOf(err)
	status.Offline = status.ErrKind == usage.KindNetwork
	status.RateLimited = status.ErrKind == usage.KindRateLimited
	status.TokenExpired = status.ErrKind == usage.KindTokenExpired || m.source.TokenExpired()

	m.logger.Warn().Err(err).Str("kind", string(status.ErrKind)).Msg("Poll failed, keeping last known usage")
	return status
}

func (m *Monitor) decide(ctx context.Context, resp *usage.Response) Status {
	now := m.clock.Now()
	status := Status{FetchedAt: now, Response: resp}

	if resp.FiveHour != nil {
		status.Percent = resp.FiveHour.Percent()
		if reset, ok := resp.FiveHour.ResetTime(); ok {
			status.ResetsAt = &reset
		} else if resp.FiveHour.ResetsAt != "" {
			m.logger.Debug().Str("resets_at", resp.FiveHour.ResetsAt).Msg("Ignoring unparseable reset time")
		}
	}

	metrics.Utilization.Set(status.Percent)
	if status.ResetsAt != nil {
		metrics.SecondsUntilReset.Set(status.ResetsAt.Sub(now).Seconds())
	}

	if m.tracker != nil {
		m.tracker.SetResetTime(status.ResetsAt)
		status.Pace = m.tracker.Calculate(status.Percent)
		status.Budget = m.budget(status.Percent)
		status.PaceWarn = m.tracker.ShouldWarn(status.Percent)
		metrics.PaceExpected.Set(status.Pace.ExpectedUsage)
	}
	if m.policy != nil {
		status.Focus = m.policy.State(status.Percent)
	}
	if m.engine != nil {
		status.Triggered = m.engine.CheckAndTrigger(ctx, status.Percent, status.ResetsAt)
	}

	if m.store != nil {
		snapshot := storage.Snapshot{Timestamp: now, Utilization: status.Percent, ResetsAt: status.ResetsAt}
		if err := m.store.RecordSnapshot(ctx, snapshot); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to record usage snapshot")
		}
	}

	m.logger.Debug().
		Float64("percent", status.Percent).
		Int("triggered", len(status.Triggered)).
		Msg("Poll complete")

	return status
}

func (m *Monitor) budget(percent float64) Budget {
	used, limit, exceeded := m.tracker.BudgetStatus(percent)
	return Budget{Used: used, Limit: limit, Exceeded: exceeded}
}

// cronLogger routes scheduler logs through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
