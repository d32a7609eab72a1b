package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goodtune/usageminder/internal/sidecar"
	"github.com/goodtune/usageminder/internal/usage"
)

var sidecarCmd = &cobra.Command{
	Use:   "sidecar ACTION [ARGS...]",
	Short: "JSON interface for desktop frontends",
	Long: `Run a single action and print one JSON object to stdout.

Actions: ` + strings.Join(sidecar.Actions, ", "),
	Example: `  usageminder sidecar get_usage
  usageminder sidecar set_config '{"language": "vi"}'
  usageminder sidecar snooze 15
  usageminder sidecar check_reminders 82.5 2026-01-01T15:00:00Z`,
	ValidArgs: sidecar.Actions,
	RunE:      runSidecar,
}

func init() {
	rootCmd.AddCommand(sidecarCmd)
}

func runSidecar(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		_ = sidecar.Write(os.Stdout, sidecar.Response{"error": "Usage: sidecar <action> [args...]"})
		return exitError{code: 1}
	}

	cfg, err := loadConfig()
	if err != nil {
		_ = sidecar.Write(os.Stdout, sidecar.Response{"error": err.Error()})
		return exitError{code: 1}
	}

	logger := quietLogger()
	a, err := newApp(cfg, logger)
	if err != nil {
		_ = sidecar.Write(os.Stdout, sidecar.Response{"error": err.Error()})
		return exitError{code: 1}
	}
	defer a.Close()

	h := sidecar.NewHandler(sidecar.Options{
		ConfigPath:  configPath,
		Config:      a.config,
		Credentials: a.credentials,
		Source:      a.client,
		Tracker:     a.tracker,
		Policy:      a.policy,
		Engine:      a.engine,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), parseDuration(cfg.API.Timeout, usage.DefaultTimeout)*2)
	defer cancel()

	resp := h.Run(ctx, args[0], args[1:])

	// Reminders triggered by check_reminders are delivered before exit
	if err := a.notifier.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("Timed out delivering notifications")
	}

	return sidecar.Write(os.Stdout, resp)
}
