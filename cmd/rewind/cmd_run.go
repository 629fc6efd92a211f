package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"Rewind/internal/domain/models"
	"Rewind/pkg/util"
)

var (
	runMarket      string
	runStart       string
	runEnd         string
	runInterval    int
	runSimulations int
	runModels      []string
	runMode        string
)

// runCmd executes an experiment in-process and prints the timeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest and wait for the result",
	Long: `Run a backtest synchronously. The result is persisted to the configured
store before it is printed. Interrupting the command cancels the run and
keeps the partial timeline.

Examples:
  rewind run --market will-x-happen --start 2024-10-01 --end 2024-10-02
  rewind run --market will-x-happen --start 2024-10-01 --end 2024-10-08 \
    --interval 1440 --simulations 3 --model openai/gpt-4o --model anthropic/claude-3.5-sonnet
  rewind run --market will-x-happen --start 2024-10-01 --end 2024-10-02 --mode direct --json`,
	RunE: runExperiment,
}

func init() {
	runCmd.Flags().StringVar(&runMarket, "market", "", "Market slug")
	runCmd.Flags().StringVar(&runStart, "start", "", "Window start (RFC3339 or YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "Window end (RFC3339 or YYYY-MM-DD)")
	runCmd.Flags().IntVar(&runInterval, "interval", 60, "Interval length in minutes")
	runCmd.Flags().IntVar(&runSimulations, "simulations", 1, "Replicas per model per interval")
	runCmd.Flags().StringSliceVar(&runModels, "model", nil, "Model identifier (repeatable)")
	runCmd.Flags().StringVar(&runMode, "mode", string(models.ModeAgentic), "Decision mode: agentic or direct")
	_ = runCmd.MarkFlagRequired("market")
	_ = runCmd.MarkFlagRequired("start")
	_ = runCmd.MarkFlagRequired("end")
}

func runExperiment(cmd *cobra.Command, _ []string) error {
	start, ok := util.ParseTime(runStart)
	if !ok {
		return fmt.Errorf("invalid --start %q", runStart)
	}
	end, ok := util.ParseTime(runEnd)
	if !ok {
		return fmt.Errorf("invalid --end %q", runEnd)
	}
	req := models.RunExperimentRequest{
		MarketSlug:      runMarket,
		StartTime:       start,
		EndTime:         end,
		IntervalMinutes: runInterval,
		NumSimulations:  runSimulations,
		Models:          runModels,
		Mode:            runMode,
	}

	rt, cleanup, err := loadRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := req.ToConfig(rt.DefaultModel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := rt.Orchestrator.RunSync(ctx, cfg)
	if err != nil && res == nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		if perr := printJSON(out, res); perr != nil {
			return perr
		}
	} else if perr := printResult(out, res); perr != nil {
		return perr
	}
	return err
}

func printResult(out io.Writer, res *models.ExperimentResult) error {
	fmt.Fprintf(out, "experiment %s  market=%s  status=%s\n", res.ID, res.Config.MarketSlug, res.Status)
	fmt.Fprintf(out, "created %s  completed %s\n", formatTime(res.CreatedAt), formatTime(res.CompletedAt))
	if res.Error != "" {
		fmt.Fprintf(out, "error: %s\n", res.Error)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tEND\tPRICE\tDECISION\tCONFIDENCE\tVOTES\tEVIDENCE\tBREAK")
	for _, iv := range res.Timeline {
		brk := ""
		if iv.BreakingPoint {
			brk = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%s\t%.2f\t%d/%d\t%d\t%s\n",
			iv.Index, formatTime(iv.End), iv.MarketState.Price,
			iv.Aggregated.Decision, iv.Aggregated.Confidence,
			iv.Aggregated.YesVotes, iv.Aggregated.NoVotes,
			iv.EvidenceCount, brk)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(res.FailedIntervals) > 0 {
		fmt.Fprintf(out, "failed intervals (%d):\n", len(res.FailedIntervals))
		for _, f := range res.FailedIntervals {
			fmt.Fprintf(out, "  #%d %s: %s\n", f.Index, formatTime(f.End), f.Error)
		}
	}
	fmt.Fprintf(out, "intervals: %d total, %d completed, %d failed, breaking points: %s\n",
		res.TotalIntervals, len(res.Timeline), len(res.FailedIntervals), joinInts(res.BreakingPoints))
	return nil
}

func joinInts(xs []int) string {
	if len(xs) == 0 {
		return "none"
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
