package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/metrics"
)

// Channel is a notification delivery mechanism.
type Channel string

const (
	ChannelSystem  Channel = "system"
	ChannelBell    Channel = "bell"
	ChannelCommand Channel = "command"
	ChannelURL     Channel = "url"
)

// ParseChannels converts configured channel names, skipping unknown ones.
func ParseChannels(names []string) []Channel {
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		switch ch := Channel(strings.ToLower(name)); ch {
		case ChannelSystem, ChannelBell, ChannelCommand, ChannelURL:
			out = append(out, ch)
		}
	}
	return out
}

// Notifier delivers a title and body over one or more channels and
// returns the channels that succeeded. It never fails as a whole.
type Notifier interface {
	Send(ctx context.Context, title, body string, channels ...Channel) []Channel
}

// Desktop shows a native desktop notification.
type Desktop interface {
	Notify(ctx context.Context, title, body string) error
}

// Sink is the production Notifier.
type Sink struct {
	config     config.Provider
	desktop    Desktop
	bell       io.Writer
	runCommand func(ctx context.Context, command string) error
	openURL    func(url string) error
	logger     zerolog.Logger
}

// Option customises a Sink.
type Option func(*Sink)

// WithDesktop replaces the desktop notifier.
func WithDesktop(d Desktop) Option {
	return func(s *Sink) { s.desktop = d }
}

// WithBell redirects the terminal bell.
func WithBell(w io.Writer) Option {
	return func(s *Sink) { s.bell = w }
}

// WithCommandRunner replaces how custom commands are started.
func WithCommandRunner(fn func(ctx context.Context, command string) error) Option {
	return func(s *Sink) { s.runCommand = fn }
}

// WithURLOpener replaces how custom URLs are opened.
func WithURLOpener(fn func(url string) error) Option {
	return func(s *Sink) { s.openURL = fn }
}

// NewSink creates a Sink that reads the custom command and URL from cfg.
func NewSink(cfg config.Provider, logger zerolog.Logger, opts ...Option) *Sink {
	s := &Sink{
		config:     cfg,
		desktop:    NewDBusDesktop(config.AppName),
		bell:       os.Stderr,
		runCommand: startCommand,
		openURL:    browser.OpenURL,
		logger:     logger.With().Str("component", "notify").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers on each channel independently. No channels means system only.
// A failed system notification falls back to the bell once.
func (s *Sink) Send(ctx context.Context, title, body string, channels ...Channel) []Channel {
	if len(channels) == 0 {
		channels = []Channel{ChannelSystem}
	}

	reminder := s.config.Current().Reminder
	delivered := make([]Channel, 0, len(channels))
	bellRung := false

	for _, ch := range channels {
		var err error

		switch ch {
		case ChannelSystem:
			err = s.desktop.Notify(ctx, title, body)
			if err != nil {
				s.failed(ch, err)
				if !bellRung && s.ringBell() == nil {
					bellRung = true
					delivered = append(delivered, ChannelBell)
					metrics.NotificationsSent.WithLabelValues(string(ChannelBell)).Inc()
					s.logger.Debug().Msg("Fell back to terminal bell")
				}
				continue
			}
		case ChannelBell:
			if bellRung {
				continue
			}
			if err = s.ringBell(); err == nil {
				bellRung = true
			}
		case ChannelCommand:
			if reminder.CustomCommand == "" {
				continue
			}
			err = s.runCommand(ctx, reminder.CustomCommand)
		case ChannelURL:
			if reminder.CustomURL == "" {
				continue
			}
			err = s.openURL(reminder.CustomURL)
		default:
			err = fmt.Errorf("unknown channel %q", ch)
		}

		if err != nil {
			s.failed(ch, err)
			continue
		}

		metrics.NotificationsSent.WithLabelValues(string(ch)).Inc()
		s.logger.Debug().Str("channel", string(ch)).Str("title", title).Msg("Notification sent")
		delivered = append(delivered, ch)
	}

	return delivered
}

func (s *Sink) failed(ch Channel, err error) {
	metrics.NotificationsFailed.WithLabelValues(string(ch)).Inc()
	s.logger.Warn().Err(err).Str("channel", string(ch)).Msg("Failed to send notification")
}

func (s *Sink) ringBell() error {
	_, err := io.WriteString(s.bell, "\a")
	return err
}

// startCommand runs command through the shell without waiting for it.
func startCommand(_ context.Context, command string) error {
	cmd := exec.Command("sh", "-c", command)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start custom command: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
