package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/archive"
	"github.com/evolab/evomon/internal/config"
	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/logging"
)

func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [run_name]",
		Short: "Copy a run directory to the configured archive backend",
		Long: `Uploads every file of the named run (or the latest run when no
name is given) to the configured archive backend, preserving the
directory layout.`,
		Args: cobra.MaximumNArgs(1),

		RunE: runArchiveCommand,
	}
}

func runArchiveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger := logging.L

	var run experiment.Run
	if len(args) == 1 {
		run = experiment.NewRun(cfg.Monitor.BaseDir, args[0])
	} else {
		run, err = experiment.FindLatestRun(cfg.Monitor.BaseDir, cfg.Monitor.RunPrefix)
		if err != nil {
			return fmt.Errorf("resolve latest run: %w", err)
		}
	}

	store, closeStore, err := buildArchiveStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver := archive.NewArchiver(store, cfg.Archive.Prefix, logger)
	n, err := archiver.ArchiveRun(cmd.Context(), run)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %d files from %s\n", n, run.Name)
	return nil
}

// buildArchiveStore selects the archive backend from configuration.
func buildArchiveStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.Store, func(), error) {
	switch cfg.Archive.Provider {
	case "gcs":
		gcs, err := archive.NewGCSStore(ctx, cfg.Archive.GCSBucket, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create GCS store: %w", err)
		}
		closeFn := func() {
			if cerr := gcs.Close(); cerr != nil {
				logger.Warn("close GCS store failed", zap.Error(cerr))
			}
		}
		return gcs, closeFn, nil
	case "local":
		local, err := archive.NewLocalStore(cfg.Archive.LocalDir)
		if err != nil {
			return nil, nil, fmt.Errorf("create local store: %w", err)
		}
		return local, func() {}, nil
	case "noop":
		return archive.NoOpStore{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}
