package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var snoozeClear bool

var snoozeCmd = &cobra.Command{
	Use:   "snooze [MINUTES]",
	Short: "Pause reminders for a while",
	Long: `Suppress reminders for MINUTES (default: the first configured snooze option).
A running watcher sees the snooze when storage is shared, e.g. with the redis backend.`,
	Example: `  usageminder snooze 30
  usageminder snooze --clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnooze,
}

func init() {
	snoozeCmd.Flags().BoolVar(&snoozeClear, "clear", false, "Cancel an active snooze")
	rootCmd.AddCommand(snoozeCmd)
}

func runSnooze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.policy.Restore(ctx); err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)

	if snoozeClear {
		a.policy.ClearSnooze()
		_, _ = green.Println("🔔 Reminders resumed")
		return nil
	}

	minutes := 15
	if len(cfg.Reminder.SnoozeMinutes) > 0 {
		minutes = cfg.Reminder.SnoozeMinutes[0]
	}
	if len(args) == 1 {
		minutes, err = strconv.Atoi(args[0])
		if err != nil || minutes <= 0 {
			return fmt.Errorf("invalid minutes: %q", args[0])
		}
	}

	a.engine.Snooze(minutes)

	until := a.policy.SnoozedUntil()
	_, _ = green.Printf("🔕 Reminders snoozed for %d minutes (until %s)\n", minutes, until.Local().Format("15:04"))
	return nil
}
