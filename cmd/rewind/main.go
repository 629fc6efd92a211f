package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"Rewind/internal/di"
	"Rewind/pkg/config"
)

var (
	configPath string
	outputJSON bool
)

// rootCmd is the base command for the Rewind CLI
var rootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Historical prediction-market backtests",
	Long: `Rewind replays a prediction market over a historical window, asking
language models for a YES/NO decision at each interval using only the
information available at that point in time.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(planCmd, runCmd, showCmd, listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime reads configuration and wires the in-process graph. Queue
// dispatch is disabled so runs execute in the CLI process.
func loadRuntime() (*di.Runtime, func(), error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Queue.Enabled = false

	rt, err := di.InitializeRuntime(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}
	return rt, cleanup, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
