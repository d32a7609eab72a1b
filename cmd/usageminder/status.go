package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/usageminder/internal/clock"
	"github.com/goodtune/usageminder/internal/config"
	"github.com/goodtune/usageminder/internal/lock"
	"github.com/goodtune/usageminder/internal/usage"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current usage",
	Long:  `Fetch and print the current usage once. Exits with status 1 when no token is available or the fetch fails.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

// exitError ends the process with code after the command printed its own output
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := quietLogger()
	if debug {
		logger = setupLogger(cfg.Logging)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	red := color.New(color.FgRed, color.Bold)

	if !a.credentials.Available() {
		if statusJSON {
			printJSON(map[string]interface{}{"error": "No OAuth token found", "token_expired": true})
		} else {
			_, _ = red.Println("❌ No OAuth token found. Please login to Claude.")
		}
		return exitError{code: 1}
	}

	ctx, cancel := context.WithTimeout(context.Background(), parseDuration(cfg.API.Timeout, usage.DefaultTimeout)*2)
	defer cancel()

	resp, err := a.client.Fetch(ctx)
	if err != nil {
		expired := usage.KindOf(err) == usage.KindTokenExpired
		if statusJSON {
			printJSON(map[string]interface{}{"error": "Failed to fetch usage", "token_expired": expired})
		} else if expired {
			_, _ = red.Println("❌ Token expired. Please re-login to Claude.")
		} else {
			_, _ = red.Println("❌ Failed to fetch usage data.")
		}
		a.logger.Error().Err(err).Msg("Failed to fetch usage")
		return exitError{code: 1}
	}

	if statusJSON {
		printJSON(resp)
		return nil
	}

	if resp.FiveHour == nil {
		_, _ = color.New(color.FgYellow).Println("⚠️  No usage data available")
		return nil
	}

	d := newDisplay(os.Stdout, clock.RealClock{})
	pct := resp.FiveHour.Percent()
	fmt.Print("📊 Usage: ")
	_, _ = d.usageColor(pct).Printf("%.1f%%\n", pct)
	if reset, ok := resp.FiveHour.ResetTime(); ok {
		fmt.Printf("🔄 Resets at: %s (in %s)\n", reset.Local().Format("2006-01-02 15:04"), formatRemaining(reset.Sub(d.clock.Now())))
	} else {
		fmt.Printf("🔄 Resets at: %s\n", resp.FiveHour.ResetsAt)
	}
	if resp.SevenDay != nil {
		fmt.Printf("📅 Seven day: %.1f%%\n", resp.SevenDay.Percent())
	}
	if running, err := lock.Running(config.LockPath()); err == nil && running {
		fmt.Println("👀 Watcher: running")
	}

	return nil
}

// printJSON writes v to stdout as indented JSON
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
