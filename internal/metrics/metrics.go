package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Usage API metrics
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageminder_usage_fetches_total",
			Help: "Total usage API fetches by outcome",
		},
		[]string{"result"}, // ok, cached, error
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageminder_usage_fetch_errors_total",
			Help: "Usage API fetch errors by kind",
		},
		[]string{"kind"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usageminder_usage_fetch_duration_seconds",
			Help:    "Usage API request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	Utilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usageminder_utilization_percent",
			Help: "Last observed five-hour window utilization (0-100)",
		},
	)

	SecondsUntilReset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usageminder_seconds_until_reset",
			Help: "Seconds until the current usage window resets",
		},
	)

	// Goals metrics
	PaceExpected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usageminder_pace_expected_percent",
			Help: "Expected usage for the elapsed fraction of the day",
		},
	)

	// Reminder metrics
	RemindersTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageminder_reminders_triggered_total",
			Help: "Total reminders triggered",
		},
		[]string{"type"},
	)

	ChecksSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageminder_reminder_checks_suppressed_total",
			Help: "Reminder checks skipped by focus mode",
		},
		[]string{"reason"}, // snoozed, quiet_hours, dnd
	)

	CallbackPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usageminder_reminder_callback_panics_total",
			Help: "Reminder listener callbacks that panicked",
		},
	)

	// Notification metrics
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageminder_notifications_sent_total",
			Help: "Notifications delivered by channel",
		},
		[]string{"channel"},
	)

	NotificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageminder_notifications_failed_total",
			Help: "Notification delivery failures by channel",
		},
		[]string{"channel"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		FetchesTotal,
		FetchErrors,
		FetchDuration,
		Utilization,
		SecondsUntilReset,
		PaceExpected,
		RemindersTriggered,
		ChecksSuppressed,
		CallbackPanics,
		NotificationsSent,
		NotificationsFailed,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. health reports liveness for /health;
// nil means always healthy.
func NewServer(addr string, health func() error, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
