package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/storage"
)

var (
	historyDate string
	historyJSON bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded usage samples for a day",
	Long: `List the usage samples a watcher recorded on one local calendar day.
History outlives the watcher only with the redis storage backend.`,
	Example: `  usageminder history
  usageminder history --date 2026-01-01 --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDate, "date", "", "Day to show as YYYY-MM-DD (default: today)")
	historyCmd.Flags().BoolVarP(&historyJSON, "json", "j", false, "Output as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	date := historyDate
	if date == "" {
		date = time.Now().Format(storage.DateFormat)
	}
	if _, err := time.Parse(storage.DateFormat, date); err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", date)
	}

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

	snapshots, err := a.store.Usage().ListSnapshots(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to list usage history: %w", err)
	}

	if historyJSON {
		printJSON(snapshots)
		return nil
	}

	printHistory(os.Stdout, newDisplay(os.Stdout, clock.RealClock{}), date, snapshots)
	return nil
}

// printHistory renders one line per sample followed by the day's peak.
func printHistory(out io.Writer, d *display, date string, snapshots []storage.Snapshot) {
	if len(snapshots) == 0 {
		_, _ = color.New(color.FgYellow).Fprintf(out, "⚠️  No usage history for %s\n", date)
		return
	}

	peak := snapshots[0]
	for _, s := range snapshots {
		_, _ = d.cyan.Fprintf(out, "[%s] ", s.Timestamp.Local().Format("15:04:05"))
		_, _ = d.usageColor(s.Utilization).Fprintf(out, "%5.1f%%", s.Utilization)
		if s.ResetsAt != nil {
			_, _ = fmt.Fprintf(out, "  🔄 %s", s.ResetsAt.Local().Format("15:04"))
		}
		_, _ = fmt.Fprintln(out)

		if s.Utilization > peak.Utilization {
			peak = s
		}
	}

	_, _ = fmt.Fprintf(out, "📈 %d samples, peak %.1f%% at %s\n", len(snapshots), peak.Utilization, peak.Timestamp.Local().Format("15:04"))
}
