// Package sidecar implements the one-shot JSON command interface used by
// desktop frontends. Every action prints exactly one JSON object.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/focus"
	"github.com/goodtune/usageminder/internal/goals"
	"github.com/goodtune/usageminder/internal/monitor"
	"github.com/goodtune/usageminder/internal/reminder"
	"github.com/goodtune/usageminder/internal/usage"
)

// Actions lists the supported action names.
var Actions = []string{
	"get_usage", "refresh_usage", "check_token", "get_config",
	"set_config", "snooze", "clear_snooze", "check_reminders",
}

// Response is one JSON reply.
type Response map[string]interface{}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	_, ok := r["error"]
	return ok
}

func errorResponse(msg string, flags Response) Response {
	resp := Response{"error": msg}
	for k, v := range flags {
		resp[k] = v
	}
	return resp
}

// TokenChecker reports whether credentials are present.
type TokenChecker interface {
	Available() bool
}

// invalidator is implemented by providers that cache the config file.
type invalidator interface {
	Invalidate()
}

// Options wires the handler to its collaborators.
type Options struct {
	ConfigPath  string
	Config      config.Provider
	Credentials TokenChecker
	Source      monitor.Source
	Tracker     *goals.Tracker
	Policy      *focus.Policy
	Engine      *reminder.Engine
}

// Handler dispatches sidecar actions.
type Handler struct {
	opts   Options
	logger zerolog.Logger
}

// NewHandler creates a sidecar handler.
func NewHandler(opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		opts:   opts,
		logger: logger.With().Str("component", "sidecar").Logger(),
	}
}

// Run executes action with its positional args.
func (h *Handler) Run(ctx context.Context, action string, args []string) Response {
	if h.opts.Policy != nil {
		if err := h.opts.Policy.Restore(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to restore snooze state")
		}
	}

	switch action {
	case "get_usage":
		return h.getUsage(ctx, h.opts.Source.Fetch)
	case "refresh_usage":
		return h.getUsage(ctx, h.opts.Source.Refresh)
	case "check_token":
		return Response{"available": h.opts.Credentials.Available()}
	case "get_config":
		return Response{"config": h.opts.Config.Current()}
	case "set_config":
		if len(args) < 1 {
			return errorResponse("set_config requires JSON argument", nil)
		}
		return h.setConfig(args[0])
	case "snooze":
		if len(args) < 1 {
			return errorResponse("snooze requires minutes argument", nil)
		}
		return h.snooze(args[0])
	case "clear_snooze":
		h.opts.Policy.ClearSnooze()
		return Response{"success": true}
	case "check_reminders":
		if len(args) < 1 {
			return errorResponse("check_reminders requires usage_percent", nil)
		}
		reset := ""
		if len(args) > 1 {
			reset = args[1]
		}
		return h.checkReminders(ctx, args[0], reset)
	default:
		return errorResponse(fmt.Sprintf("Unknown action: %s", action), nil)
	}
}

func (h *Handler) getUsage(ctx context.Context, fetch func(context.Context) (*usage.Response, error)) Response {
	if !h.opts.Credentials.Available() {
		return errorResponse("No OAuth token available", Response{"token_expired": true})
	}

	resp, err := fetch(ctx)
	if err != nil {
		return h.fetchError(err)
	}

	result := Response{"five_hour": nil}
	percent := 0.0
	if resp.FiveHour != nil {
		percent = resp.FiveHour.Percent()
		result["five_hour"] = resp.FiveHour

		if reset, ok := resp.FiveHour.ResetTime(); ok {
			h.opts.Tracker.SetResetTime(&reset)
		}
		pace := h.opts.Tracker.Calculate(percent)
		result["goals"] = Response{
			"enabled":        h.opts.Config.Current().Goals.Enabled,
			"is_on_track":    pace.IsOnTrack,
			"current_usage":  pace.CurrentUsage,
			"expected_usage": pace.ExpectedUsage,
			"message":        pace.Message,
		}
	}
	if resp.SevenDay != nil {
		result["seven_day"] = resp.SevenDay
	}
	if resp.ExtraUsage != nil {
		result["extra_usage"] = resp.ExtraUsage
	}
	result["focus_mode"] = h.opts.Policy.State(percent)

	return result
}

func (h *Handler) fetchError(err error) Response {
	switch usage.KindOf(err) {
	case usage.KindTokenExpired:
		h.logger.Warn().Err(err).Msg("Token expired")
		return errorResponse("OAuth token expired", Response{"token_expired": true})
	case usage.KindRateLimited:
		h.logger.Warn().Err(err).Msg("Rate limit exceeded")
		return errorResponse("Rate limit exceeded", Response{"rate_limited": true})
	case usage.KindNetwork:
		h.logger.Warn().Err(err).Msg("Network error")
		return errorResponse("Network error", Response{"offline": true})
	default:
		h.logger.Error().Err(err).Msg("Failed to get usage")
		return errorResponse(err.Error(), nil)
	}
}

func (h *Handler) setConfig(patch string) Response {
	updated, err := config.Merge(h.opts.Config.Current(), []byte(patch))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to merge config")
		return errorResponse(err.Error(), nil)
	}

	if err := config.Save(h.opts.ConfigPath, updated); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save config")
		return errorResponse(err.Error(), nil)
	}
	if inv, ok := h.opts.Config.(invalidator); ok {
		inv.Invalidate()
	}

	return Response{"success": true, "config": updated}
}

func (h *Handler) snooze(arg string) Response {
	minutes, err := strconv.Atoi(arg)
	if err != nil || minutes <= 0 {
		return errorResponse(fmt.Sprintf("invalid snooze minutes: %q", arg), nil)
	}

	h.opts.Policy.Snooze(minutes)

	resp := Response{
		"success":          true,
		"snooze_remaining": h.opts.Policy.SnoozeRemainingSeconds(),
	}
	if until := h.opts.Policy.SnoozedUntil(); until != nil {
		resp["snoozed_until"] = float64(until.UnixMilli()) / 1000
	}
	return resp
}

func (h *Handler) checkReminders(ctx context.Context, usageArg, resetArg string) Response {
	percent, err := strconv.ParseFloat(usageArg, 64)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid usage_percent: %q", usageArg), nil)
	}

	var resetTime *time.Time
	if resetArg != "" {
		t, ok := usage.ParseResetTime(resetArg)
		if !ok {
			return errorResponse(fmt.Sprintf("invalid reset time: %q", resetArg), nil)
		}
		resetTime = &t
	}

	triggered := h.opts.Engine.CheckAndTrigger(ctx, percent, resetTime)
	if triggered == nil {
		triggered = []reminder.Event{}
	}
	return Response{"triggered": triggered}
}

// Write encodes resp as a single line of JSON.
func Write(w io.Writer, resp Response) error {
	return json.NewEncoder(w).Encode(resp)
}
