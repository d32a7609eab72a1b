package reminder

import (
	"context"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/focus"
	"github.com/goodtune/usageminder/internal/notify"
)

type sent struct {
	title    string
	body     string
	channels []notify.Channel
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingNotifier) Send(_ context.Context, title, body string, channels ...notify.Channel) []notify.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{title: title, body: body, channels: channels})
	return channels
}

type testEnv struct {
	engine   *Engine
	cfg      *config.Config
	clock    *clock.TestClock
	policy   *focus.Policy
	notifier *recordingNotifier
}

var baseTime = time.Date(2026, 2, 3, 13, 0, 0, 0, time.Local)

func setupEngine(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Reminder.PercentageThresholds = []int{50, 75, 90, 100}
	cfg.Reminder.BeforeResetMinutes = []int{15, 30, 60}
	cfg.Reminder.OnReset = true
	cfg.FocusMode.Enabled = false

	provider := config.Static{Config: cfg}
	clk := clock.NewTestClock(baseTime)
	policy := focus.NewPolicy(provider, clk, nil, zerolog.Nop())
	notifier := &recordingNotifier{}

	return &testEnv{
		engine:   NewEngine(provider, policy, notifier, clk, zerolog.Nop()),
		cfg:      cfg,
		clock:    clk,
		policy:   policy,
		notifier: notifier,
	}
}

func messages(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestCheckAndTrigger_EndToEnd(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	events := env.engine.CheckAndTrigger(ctx, 75.0, nil)
	want := []Event{
		{Type: TypePercentage, Message: "Usage reached 50%"},
		{Type: TypePercentage, Message: "Usage reached 75%"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("Expected %v, got %v", want, events)
	}
	if got := env.engine.State().TriggeredPercentages; !reflect.DeepEqual(got, []int{50, 75}) {
		t.Errorf("Expected triggered {50, 75}, got %v", got)
	}

	if events := env.engine.CheckAndTrigger(ctx, 55.0, nil); len(events) != 0 {
		t.Errorf("Expected no events, got %v", events)
	}
}

func TestCheckAndTrigger_IncreasingUsageFiresEachThresholdOnce(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	var all []string
	for _, usage := range []float64{10, 49.9, 50, 60, 74, 89, 95, 99.5, 100, 100} {
		all = append(all, messages(env.engine.CheckAndTrigger(ctx, usage, nil))...)
	}

	want := []string{"Usage reached 50%", "Usage reached 75%", "Usage reached 90%", "Usage reached 100%"}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("Expected %v, got %v", want, all)
	}
}

func TestCheckAndTrigger_UnsortedThresholdsFireAscending(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.PercentageThresholds = []int{90, 50, 75}

	got := messages(env.engine.CheckAndTrigger(context.Background(), 95, nil))
	want := []string{"Usage reached 50%", "Usage reached 75%", "Usage reached 90%"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestCheckAndTrigger_Disabled(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.Enabled = false

	if events := env.engine.CheckAndTrigger(context.Background(), 100, timePtr(baseTime.Add(10*time.Minute))); len(events) != 0 {
		t.Errorf("Expected no events when disabled, got %v", events)
	}

	st := env.engine.State()
	if len(st.TriggeredPercentages) != 0 || st.LastResetTime != nil {
		t.Errorf("Expected untouched state, got %+v", st)
	}
}

func TestCheckAndTrigger_SuppressionDefersWithoutMutation(t *testing.T) {
	tests := []struct {
		name     string
		suppress func(env *testEnv)
		release  func(env *testEnv)
		usage    float64
	}{
		{
			name:     "snooze",
			suppress: func(env *testEnv) { env.engine.Snooze(15) },
			release:  func(env *testEnv) { env.policy.ClearSnooze() },
			usage:    80,
		},
		{
			name: "quiet hours",
			suppress: func(env *testEnv) {
				env.cfg.FocusMode.Enabled = true
				env.cfg.FocusMode.QuietHoursStart = "12:00"
				env.cfg.FocusMode.QuietHoursEnd = "14:00"
			},
			release: func(env *testEnv) { env.clock.Advance(2 * time.Hour) },
			usage:   80,
		},
		{
			name: "dnd by usage",
			suppress: func(env *testEnv) {
				env.cfg.FocusMode.Enabled = true
				env.cfg.FocusMode.DNDThreshold = 70
			},
			release: func(env *testEnv) { env.cfg.FocusMode.DNDThreshold = 95 },
			usage:   80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEngine(t)
			ctx := context.Background()
			reset := timePtr(baseTime.Add(3 * time.Hour))

			tt.suppress(env)
			if events := env.engine.CheckAndTrigger(ctx, tt.usage, reset); len(events) != 0 {
				t.Fatalf("Expected suppression, got %v", events)
			}

			st := env.engine.State()
			if len(st.TriggeredPercentages) != 0 || st.LastResetTime != nil {
				t.Fatalf("Expected no state mutation while suppressed, got %+v", st)
			}
			if len(env.notifier.sent) != 0 {
				t.Fatalf("Expected no notifications while suppressed")
			}

			tt.release(env)
			got := messages(env.engine.CheckAndTrigger(ctx, tt.usage, reset))
			want := []string{"Usage reached 50%", "Usage reached 75%"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Expected deferred %v, got %v", want, got)
			}
		})
	}
}

func TestResetTriggers(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	reset := timePtr(baseTime.Add(10 * time.Minute))
	env.engine.CheckAndTrigger(ctx, 60, reset)
	env.engine.CheckAndTrigger(ctx, 60, timePtr(baseTime.Add(5*time.Hour)))

	st := env.engine.State()
	if len(st.TriggeredPercentages) == 0 || len(st.TriggeredBeforeReset) == 0 || !st.ResetTriggered {
		t.Fatalf("Expected populated state, got %+v", st)
	}

	env.engine.ResetTriggers()

	st = env.engine.State()
	if len(st.TriggeredPercentages) != 0 || len(st.TriggeredBeforeReset) != 0 || st.ResetTriggered {
		t.Errorf("Expected cleared dedup state, got %+v", st)
	}
	if st.LastResetTime == nil || !st.LastResetTime.Equal(baseTime.Add(5*time.Hour)) {
		t.Errorf("Expected last reset time preserved, got %v", st.LastResetTime)
	}

	got := messages(env.engine.CheckAndTrigger(ctx, 60, nil))
	if !reflect.DeepEqual(got, []string{"Usage reached 50%"}) {
		t.Errorf("Expected threshold to fire again, got %v", got)
	}
}

func TestCheckAndTrigger_BeforeReset(t *testing.T) {
	tests := []struct {
		name    string
		offsets []int
		until   time.Duration
		want    []string
	}{
		{
			name:    "fourteen minutes fires every offset",
			offsets: []int{15, 30, 60},
			until:   14 * time.Minute,
			want:    []string{"Token reset in 14 minutes!", "Token reset in 14 minutes!", "Token reset in 14 minutes!"},
		},
		{
			name:    "forty minutes fires only sixty",
			offsets: []int{15, 30, 60},
			until:   40 * time.Minute,
			want:    []string{"Token reset in 40 minutes!"},
		},
		{
			name:    "fractional minutes are floored",
			offsets: []int{15},
			until:   9*time.Minute + 59*time.Second,
			want:    []string{"Token reset in 9 minutes!"},
		},
		{
			name:    "exact boundary fires",
			offsets: []int{30},
			until:   30 * time.Minute,
			want:    []string{"Token reset in 30 minutes!"},
		},
		{
			name:    "reset already passed",
			offsets: []int{15, 30, 60},
			until:   -time.Minute,
			want:    nil,
		},
		{
			name:    "reset now",
			offsets: []int{15},
			until:   0,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEngine(t)
			env.cfg.Reminder.PercentageThresholds = nil
			env.cfg.Reminder.BeforeResetMinutes = tt.offsets

			events := env.engine.CheckAndTrigger(context.Background(), 0, timePtr(baseTime.Add(tt.until)))
			got := messages(events)
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			for _, ev := range events {
				if ev.Type != TypeBeforeReset {
					t.Errorf("Expected before_reset type, got %s", ev.Type)
				}
			}
		})
	}
}

func TestCheckAndTrigger_BeforeResetDedup(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.PercentageThresholds = nil
	ctx := context.Background()
	reset := timePtr(baseTime.Add(45 * time.Minute))

	if got := messages(env.engine.CheckAndTrigger(ctx, 0, reset)); len(got) != 1 {
		t.Fatalf("Expected only the 60 minute reminder, got %v", got)
	}

	env.clock.Advance(20 * time.Minute) // 25 minutes left
	if got := messages(env.engine.CheckAndTrigger(ctx, 0, reset)); !reflect.DeepEqual(got, []string{"Token reset in 25 minutes!"}) {
		t.Errorf("Expected 30 minute reminder, got %v", got)
	}

	env.clock.Advance(time.Minute)
	if got := env.engine.CheckAndTrigger(ctx, 0, reset); len(got) != 0 {
		t.Errorf("Expected no repeats, got %v", got)
	}

	if got := env.engine.State().TriggeredBeforeReset; !reflect.DeepEqual(got, []int{30, 60}) {
		t.Errorf("Expected {30, 60}, got %v", got)
	}
}

func TestCheckAndTrigger_OnReset(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.PercentageThresholds = nil
	env.cfg.Reminder.BeforeResetMinutes = nil
	ctx := context.Background()

	first := baseTime.Add(2 * time.Hour)

	// First observation only establishes the baseline
	if got := env.engine.CheckAndTrigger(ctx, 10, &first); len(got) != 0 {
		t.Fatalf("Expected no on-reset on first call, got %v", got)
	}

	// Same reset time is not a rollover
	if got := env.engine.CheckAndTrigger(ctx, 10, &first); len(got) != 0 {
		t.Fatalf("Expected no on-reset for unchanged reset time, got %v", got)
	}

	// Missing reset time keeps the baseline
	if got := env.engine.CheckAndTrigger(ctx, 10, nil); len(got) != 0 {
		t.Fatalf("Expected nothing without reset time, got %v", got)
	}
	if last := env.engine.State().LastResetTime; last == nil || !last.Equal(first) {
		t.Fatalf("Expected baseline kept, got %v", last)
	}

	// Earlier reset time is not a rollover
	earlier := first.Add(-time.Hour)
	if got := env.engine.CheckAndTrigger(ctx, 10, &earlier); len(got) != 0 {
		t.Fatalf("Expected no on-reset for earlier reset time, got %v", got)
	}

	second := first.Add(5 * time.Hour)
	got := env.engine.CheckAndTrigger(ctx, 10, &second)
	want := []Event{{Type: TypeOnReset, Message: "Your token has reset!"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}

	// Fires once until triggers are reset
	third := second.Add(5 * time.Hour)
	if got := env.engine.CheckAndTrigger(ctx, 10, &third); len(got) != 0 {
		t.Errorf("Expected on-reset to stay latched, got %v", got)
	}

	env.engine.ResetTriggers()
	fourth := third.Add(5 * time.Hour)
	if got := env.engine.CheckAndTrigger(ctx, 10, &fourth); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected on-reset after ResetTriggers, got %v", got)
	}
}

func TestCheckAndTrigger_OnResetDisabled(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.OnReset = false
	env.cfg.Reminder.PercentageThresholds = nil
	ctx := context.Background()

	env.engine.CheckAndTrigger(ctx, 0, timePtr(baseTime.Add(3*time.Hour)))
	if got := env.engine.CheckAndTrigger(ctx, 0, timePtr(baseTime.Add(8*time.Hour))); len(got) != 0 {
		t.Errorf("Expected no on-reset when disabled, got %v", got)
	}
}

func TestCheckAndTrigger_EventOrder(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.engine.CheckAndTrigger(ctx, 0, timePtr(baseTime.Add(3*time.Hour)))

	// An earlier reset time is not a rollover
	for _, ev := range env.engine.CheckAndTrigger(ctx, 80, timePtr(baseTime.Add(20*time.Minute))) {
		if ev.Type == TypeOnReset {
			t.Fatalf("Unexpected on-reset for earlier reset time")
		}
	}

	env.engine.ResetTriggers()
	events := env.engine.CheckAndTrigger(ctx, 80, timePtr(baseTime.Add(10*time.Hour)))
	var types []Type
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []Type{TypePercentage, TypePercentage, TypeOnReset}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("Expected order %v, got %v", want, types)
	}
}

// Crossing into a new cycle does not clear percentage dedup, so a low
// threshold stays silent after the reset until ResetTriggers is called.
func TestCheckAndTrigger_RolloverKeepsPercentageDedup(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.BeforeResetMinutes = nil
	ctx := context.Background()

	cycle1 := baseTime.Add(2 * time.Hour)
	env.engine.CheckAndTrigger(ctx, 60, &cycle1)

	cycle2 := cycle1.Add(5 * time.Hour)
	got := messages(env.engine.CheckAndTrigger(ctx, 5, &cycle2))
	if !reflect.DeepEqual(got, []string{"Your token has reset!"}) {
		t.Fatalf("Expected on-reset, got %v", got)
	}

	if got := env.engine.CheckAndTrigger(ctx, 55, &cycle2); len(got) != 0 {
		t.Errorf("Expected 50%% to stay deduplicated after rollover, got %v", got)
	}

	env.engine.ResetTriggers()
	if got := messages(env.engine.CheckAndTrigger(ctx, 55, &cycle2)); !reflect.DeepEqual(got, []string{"Usage reached 50%"}) {
		t.Errorf("Expected 50%% after ResetTriggers, got %v", got)
	}
}

func TestCheckAndTrigger_NotifiesSink(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.Channels = []string{"system", "bell"}

	env.engine.CheckAndTrigger(context.Background(), 50, nil)

	if len(env.notifier.sent) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(env.notifier.sent))
	}
	got := env.notifier.sent[0]
	if got.title != "Usageminder" || got.body != "Usage reached 50%" {
		t.Errorf("Unexpected notification %+v", got)
	}
	if !reflect.DeepEqual(got.channels, []notify.Channel{notify.ChannelSystem, notify.ChannelBell}) {
		t.Errorf("Unexpected channels %v", got.channels)
	}
}

func TestCallbacks(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	var order []string
	env.engine.AddCallback(func(typ Type, msg string) { order = append(order, "first:"+msg) })
	env.engine.AddCallback(func(typ Type, msg string) { panic("boom") })
	third := env.engine.AddCallback(func(typ Type, msg string) { order = append(order, "third:"+msg) })

	events := env.engine.CheckAndTrigger(ctx, 50, nil)
	if len(events) != 1 {
		t.Fatalf("Expected events despite panicking callback, got %v", events)
	}
	want := []string{"first:Usage reached 50%", "third:Usage reached 50%"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}

	env.engine.RemoveCallback(third)
	// Removing twice or removing an unknown id is a no-op
	env.engine.RemoveCallback(third)
	env.engine.RemoveCallback(CallbackID(999))

	order = nil
	env.engine.CheckAndTrigger(ctx, 75, nil)
	if !reflect.DeepEqual(order, []string{"first:Usage reached 75%"}) {
		t.Errorf("Expected only first callback, got %v", order)
	}
}

func TestCheckAndTrigger_NaNAndNegativeUsage(t *testing.T) {
	env := setupEngine(t)
	env.cfg.Reminder.PercentageThresholds = []int{0, 50}

	if got := messages(env.engine.CheckAndTrigger(context.Background(), -5, nil)); len(got) != 0 {
		t.Errorf("Expected no events for negative usage, got %v", got)
	}

	if got := messages(env.engine.CheckAndTrigger(context.Background(), math.NaN(), nil)); len(got) != 0 {
		t.Errorf("Expected no events for NaN usage, got %v", got)
	}
}
