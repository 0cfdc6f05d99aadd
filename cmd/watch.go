package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/clock/system"
	"github.com/evolab/evomon/internal/config"
	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/logging"
	"github.com/evolab/evomon/internal/monitor"
	"github.com/evolab/evomon/internal/notify"
	"github.com/evolab/evomon/internal/progress"
	"github.com/evolab/evomon/internal/progress/sinks"
	"github.com/evolab/evomon/internal/storage/postgres"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the latest experiment run until it completes",
		Long: `Polls the experiments directory for the newest run, tails its
evolution trace and rollback log, and prints progress until the run
reaches its iteration target or the process is interrupted.`,

		RunE: runWatchCommand,
	}
}

func runWatchCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger := logging.L

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub, repo, err := buildProgressHub(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
		if repo != nil {
			repo.Close()
		}
	}()

	m := monitor.New(monitor.Config{
		BaseDir:          cfg.Monitor.BaseDir,
		RunPrefix:        cfg.Monitor.RunPrefix,
		PollInterval:     cfg.PollInterval(),
		TargetIterations: cfg.Monitor.TargetIterations,
	}, hub, system.New(), cmd.OutOrStdout(), logger)

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run monitor: %w", err)
	}
	if ctx.Err() != nil {
		// Interrupted; no completion to report.
		return nil
	}

	// The run finished; a notification failure must not turn a clean watch
	// into a non-zero exit.
	if err := notifyCompletion(cmd.Context(), cfg, logger); err != nil {
		logger.Warn("completion notification failed", zap.Error(err))
	}
	return nil
}

// buildProgressHub assembles the sink pipeline: console logging and
// Prometheus always, Postgres persistence when configured. The returned
// TraceStore is nil when the database is disabled.
func buildProgressHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*progress.Hub, *postgres.TraceStore, error) {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{
		sinks.NewLogSink(logger),
		promSink,
	}

	var traceStore *postgres.TraceStore
	if cfg.DB.Enabled {
		traceStore, err = postgres.NewTraceStore(ctx, postgres.TraceStoreConfig{
			DSN:             cfg.DB.DSN,
			IterationsTable: cfg.DB.Table,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create trace store: %w", err)
		}
		if err := traceStore.EnsureSchema(ctx); err != nil {
			traceStore.Close()
			return nil, nil, fmt.Errorf("ensure trace schema: %w", err)
		}
		sinkList = append(sinkList, sinks.NewStoreSink(traceStore, logger))
	}

	hub := progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logger,
	}, sinkList...)
	return hub, traceStore, nil
}

// notifyCompletion summarizes the finished run and publishes it through the
// configured provider.
func notifyCompletion(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	provider, err := buildNotifyProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := provider.Close(); cerr != nil {
			logger.Warn("close notify provider failed", zap.Error(cerr))
		}
	}()

	run, err := experiment.FindLatestRun(cfg.Monitor.BaseDir, cfg.Monitor.RunPrefix)
	if err != nil {
		return fmt.Errorf("resolve completed run: %w", err)
	}
	records, err := experiment.ReadTrace(run.TracePath())
	if err != nil {
		return fmt.Errorf("read completed trace: %w", err)
	}
	summary := experiment.Summarize(records)
	rollbacks, err := experiment.CountRollbacks(run.RollbackPath())
	if err != nil {
		logger.Warn("count rollbacks for completion failed", zap.Error(err))
	}

	completion := notify.Completion{
		Run:               run.Name,
		Iterations:        summary.Iterations,
		Rollbacks:         rollbacks,
		FinalMaxTemp:      summary.FinalMaxTemp,
		FinalPenalty:      summary.FinalPenalty,
		Trend:             string(summary.Trend),
		VisualizationPath: run.VisualizationPath(),
		CompletedAt:       time.Now().UTC(),
	}
	if err := provider.NotifyCompletion(ctx, completion); err != nil {
		return fmt.Errorf("notify completion: %w", err)
	}
	return nil
}

var buildNotifyProvider = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Provider, error) {
	if !cfg.PubSub.Enabled {
		return notify.NoOp{}, nil
	}
	provider, err := notify.NewPubSubProvider(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
	if err != nil {
		return nil, fmt.Errorf("create pubsub provider: %w", err)
	}
	return provider, nil
}

