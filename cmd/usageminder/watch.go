package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/lock"
	"github.com/goodtune/usageminder/internal/metrics"
	"github.com/goodtune/usageminder/internal/monitor"
	"github.com/goodtune/usageminder/internal/systemd"
)

// shutdownTimeout bounds draining in-flight polls and notifications
const shutdownTimeout = 10 * time.Second

var watchQuiet bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll usage and send reminders",
	Long: `Poll the usage API on the configured interval, print each result and
send reminders when thresholds are crossed or the reset window approaches.
Only one watcher may run per user.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchQuiet, "quiet", "q", false, "Do not print usage lines, only send reminders")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Bool("systemd", systemd.IsSystemdService()).
		Msg("Starting usageminder")

	// Enforce a single watcher
	instance, err := lock.Acquire(config.LockPath())
	if errors.Is(err, lock.ErrHeld) {
		return fmt.Errorf("usageminder is already running (lock %s)", config.LockPath())
	}
	if err != nil {
		return err
	}
	logger.Debug().Str("path", instance.Path()).Msg("Instance lock acquired")
	defer func() {
		if err := instance.Release(); err != nil {
			logger.Error().Err(err).Msg("Failed to release instance lock")
		}
	}()

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	if !a.credentials.Available() {
		logger.Warn().Str("path", a.credentials.Path()).Msg("No OAuth token found, please login to Claude")
	}

	mon := monitor.New(a.client, a.engine, a.tracker, a.policy, a.store.Usage(), clock.RealClock{}, monitor.Options{
		Interval: parseDuration(cfg.PollInterval, time.Minute),
		Timeout:  parseDuration(cfg.API.Timeout, 10*time.Second) * time.Duration(cfg.API.Retries+2),
	}, logger)

	if !watchQuiet {
		d := newDisplay(os.Stdout, clock.RealClock{})
		mon.Subscribe(d.Render)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, mon.Health, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
		logger.Info().Str("addr", metricsAddr).Msg("Metrics Server started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.Start(ctx); err != nil {
		return err
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, reloading configuration...")
			a.config.Invalidate()
			a.config.Current()
			continue

		case syscall.SIGUSR1:
			logger.Info().Msg("SIGUSR1 received, refreshing usage...")
			go mon.Refresh(ctx)
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()

	select {
	case <-mon.Stop().Done():
	case <-drainCtx.Done():
		logger.Warn().Msg("Timed out waiting for running poll")
	}
	cancel()

	if err := a.notifier.Wait(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("Timed out waiting for notifications")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("usageminder stopped")
	return nil
}
