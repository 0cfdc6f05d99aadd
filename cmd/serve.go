package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/api"
	"github.com/evolab/evomon/internal/logging"
	"github.com/evolab/evomon/internal/storage/postgres"
	"github.com/evolab/evomon/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only run status API",
		Long: `Starts an HTTP server exposing run inventories, trace and
rollback data from the experiments directory, plus observed-run history
when a database is configured.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger := logging.L

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var traceStore *postgres.TraceStore
	if cfg.DB.Enabled {
		traceStore, err = postgres.NewTraceStore(ctx, postgres.TraceStoreConfig{
			DSN:             cfg.DB.DSN,
			IterationsTable: cfg.DB.Table,
		})
		if err != nil {
			return fmt.Errorf("create trace store: %w", err)
		}
		defer traceStore.Close()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(cfg, traceRepoOrNil(traceStore), logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status API listening", zap.String("addr", srv.Addr))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve status API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status API: %w", err)
	}
	logger.Info("status API stopped")
	return nil
}

// traceRepoOrNil exposes the optional repository under the store interface.
// A typed nil *TraceStore must not leak into the interface value.
func traceRepoOrNil(ts *postgres.TraceStore) store.TraceRepository {
	if ts == nil {
		return nil
	}
	return ts
}
