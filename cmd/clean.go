package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/logging"
)

func newCleanCmd() *cobra.Command {
	var keep int
	var force bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Prune old experiment runs, keeping the newest N",
		Long: `Lists run directories that would be deleted, keeping the newest
N runs. Nothing is removed unless --force is given.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanCommand(cmd, keep, force)
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of newest runs to keep")
	cmd.Flags().BoolVar(&force, "force", false, "actually delete instead of listing")
	return cmd
}

func runCleanCommand(cmd *cobra.Command, keep int, force bool) error {
	if keep < 0 {
		return fmt.Errorf("--keep must be >= 0")
	}
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger := logging.L
	out := cmd.OutOrStdout()

	infos, err := experiment.ListRuns(cfg.Monitor.BaseDir, cfg.Monitor.RunPrefix)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(infos) <= keep {
		fmt.Fprintf(out, "Nothing to clean: %d runs, keeping %d.\n", len(infos), keep)
		return nil
	}

	// ListRuns sorts by name ascending, so the oldest runs come first.
	doomed := infos[:len(infos)-keep]
	var reclaimed int64
	for _, info := range doomed {
		reclaimed += info.SizeBytes
		if !force {
			fmt.Fprintf(out, "would remove %s (%s)\n", info.Name, formatBytes(info.SizeBytes))
			continue
		}
		if err := os.RemoveAll(info.Path); err != nil {
			return fmt.Errorf("remove run %s: %w", info.Name, err)
		}
		logger.Info("removed run", zap.String("run", info.Name), zap.Int64("bytes", info.SizeBytes))
		fmt.Fprintf(out, "removed %s (%s)\n", info.Name, formatBytes(info.SizeBytes))
	}

	verb := "would reclaim"
	if force {
		verb = "reclaimed"
	}
	fmt.Fprintf(out, "%d runs, %s %s. Kept newest %d.\n", len(doomed), verb, formatBytes(reclaimed), keep)
	if !force {
		fmt.Fprintln(out, "Re-run with --force to delete.")
	}
	return nil
}
