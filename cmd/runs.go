package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/evolab/evomon/internal/experiment"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List experiment runs with their sizes and progress",

		RunE: runRunsCommand,
	}
}

func runRunsCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}

	infos, err := experiment.ListRuns(cfg.Monitor.BaseDir, cfg.Monitor.RunPrefix)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No experiment runs found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tITERATIONS\tBEST PENALTY\tTREND\tSIZE\tVIZ")
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		iterations := "-"
		bestPenalty := "-"
		trend := "-"
		records, err := experiment.ReadTrace(info.TracePath())
		if err == nil {
			summary := experiment.Summarize(records)
			iterations = fmt.Sprintf("%d", summary.Iterations)
			if summary.Iterations > 0 {
				bestPenalty = fmt.Sprintf("%.2f", summary.BestPenalty)
			}
			if summary.Trend != "" {
				trend = string(summary.Trend)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			iterations = "unreadable"
		}
		viz := "no"
		if info.HasVisualizations {
			viz = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.Name, iterations, bestPenalty, trend, formatBytes(info.SizeBytes), viz)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
