package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"Rewind/internal/usecase"
	"Rewind/pkg/util"
)

var (
	planStart    string
	planEnd      string
	planInterval int
)

// planCmd previews the interval partition without calling any service
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the interval plan for a time window",
	Long: `Partition [start, end) into consecutive intervals. The last interval is
truncated at end.

Examples:
  rewind plan --start 2024-10-01T00:00:00Z --end 2024-10-02T00:00:00Z
  rewind plan --start 2024-10-01 --end 2024-10-08 --interval 1440 --json`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planStart, "start", "", "Window start (RFC3339 or YYYY-MM-DD)")
	planCmd.Flags().StringVar(&planEnd, "end", "", "Window end (RFC3339 or YYYY-MM-DD)")
	planCmd.Flags().IntVar(&planInterval, "interval", 60, "Interval length in minutes")
	_ = planCmd.MarkFlagRequired("start")
	_ = planCmd.MarkFlagRequired("end")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	start, ok := util.ParseTime(planStart)
	if !ok {
		return fmt.Errorf("invalid --start %q", planStart)
	}
	end, ok := util.ParseTime(planEnd)
	if !ok {
		return fmt.Errorf("invalid --end %q", planEnd)
	}
	intervals, err := usecase.Plan(start, end, time.Duration(planInterval)*time.Minute)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, intervals)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSTART\tEND")
	for _, iv := range intervals {
		fmt.Fprintf(w, "%d\t%s\t%s\n", iv.Index, formatTime(iv.Start), formatTime(iv.End))
	}
	fmt.Fprintf(w, "total: %d\n", len(intervals))
	return w.Flush()
}
