package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/monitor"
	"github.com/goodtune/usageminder/internal/usage"
)

// display renders poll results as terminal lines.
type display struct {
	out   io.Writer
	clock clock.Clock

	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

func newDisplay(out io.Writer, clk clock.Clock) *display {
	return &display{
		out:    out,
		clock:  clk,
		cyan:   color.New(color.FgCyan, color.Bold),
		green:  color.New(color.FgGreen, color.Bold),
		yellow: color.New(color.FgYellow, color.Bold),
		red:    color.New(color.FgRed, color.Bold),
	}
}

// usageColor picks green, yellow or red for a percentage.
func (d *display) usageColor(percent float64) *color.Color {
	switch {
	case percent >= 90:
		return d.red
	case percent >= 70:
		return d.yellow
	default:
		return d.green
	}
}

// Render prints one poll result.
func (d *display) Render(s monitor.Status) {
	if s.Err != nil {
		d.renderError(s)
	}
	if s.Restored {
		_, _ = d.green.Fprintln(d.out, "✅ Connection restored")
	}
	if !s.HasData() {
		return
	}

	stamp := s.FetchedAt.Format("15:04:05")
	_, _ = d.cyan.Fprintf(d.out, "[%s] ", stamp)
	_, _ = fmt.Fprint(d.out, "📊 Usage: ")
	_, _ = d.usageColor(s.Percent).Fprintf(d.out, "%.1f%%", s.Percent)

	if s.ResetsAt != nil {
		_, _ = fmt.Fprintf(d.out, "  🔄 Resets in %s (%s)", formatRemaining(s.ResetsAt.Sub(d.clock.Now())), s.ResetsAt.Local().Format("15:04"))
	}
	if s.Response != nil && s.Response.SevenDay != nil {
		_, _ = fmt.Fprintf(d.out, "  📅 7d: %.1f%%", s.Response.SevenDay.Percent())
	}
	_, _ = fmt.Fprintln(d.out)

	d.renderGoals(s)
	if s.Focus.NotificationsSuppressed {
		_, _ = fmt.Fprintf(d.out, "   🔕 %s\n", s.Focus.Reason)
	}
	for _, ev := range s.Triggered {
		_, _ = d.yellow.Fprintf(d.out, "   🔔 %s\n", ev.Message)
	}
}

// renderGoals prints the budget and pace lines. An empty pace message means
// goals are disabled.
func (d *display) renderGoals(s monitor.Status) {
	if s.Pace.Message == "" {
		return
	}

	budget := d.cyan
	if s.Budget.Exceeded {
		budget = d.red
	}
	_, _ = budget.Fprintf(d.out, "   💰 Budget used: %.1f%% / %.0f%%\n", s.Budget.Used, s.Budget.Limit)

	switch {
	case s.PaceWarn:
		_, _ = d.yellow.Fprintf(d.out, "   ⚠️  %s\n", s.Pace.Message)
	case s.Pace.IsOnTrack:
		_, _ = d.green.Fprintf(d.out, "   🎯 %s\n", s.Pace.Message)
	default:
		_, _ = fmt.Fprintf(d.out, "   🎯 %s\n", s.Pace.Message)
	}
}

func (d *display) renderError(s monitor.Status) {
	switch {
	case s.TokenExpired:
		_, _ = d.red.Fprintln(d.out, "❌ Token expired. Please re-login to Claude.")
	case s.RateLimited:
		_, _ = d.yellow.Fprintln(d.out, "⏳ Rate limited, showing last known usage")
	case s.Offline:
		_, _ = d.red.Fprintln(d.out, "📡 Offline, showing last known usage")
	case s.ErrKind == usage.KindOther:
		_, _ = d.red.Fprintf(d.out, "❌ Failed to fetch usage: %v\n", s.Err)
	}
}

// formatRemaining renders a duration as "1h05m" or "12m".
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
