package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listLimit int

// showCmd prints a persisted experiment result
var showCmd = &cobra.Command{
	Use:   "show <experiment-id>",
	Short: "Show a stored experiment result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := loadRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := rt.Orchestrator.Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

// listCmd prints stored experiment summaries, newest first
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored experiments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, cleanup, err := loadRuntime()
		if err != nil {
			return err
		}
		defer cleanup()

		items, err := rt.Orchestrator.List(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, items)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMARKET\tSTATUS\tINTERVALS\tCOMPLETED\tFAILED\tCREATED")
		for _, s := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				s.ID, s.MarketSlug, s.Status, s.TotalIntervals, s.CompletedIntervals, s.FailedIntervals, formatTime(s.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of experiments")
}
