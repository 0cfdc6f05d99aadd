// Package cmd defines and implements the CLI commands for the evomon
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/config"
	"github.com/evolab/evomon/internal/logging"
)

var cfgFile string

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// loadConfig is a variable so tests can replace it with a stub loader.
var loadConfig = config.Load

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evomon",
		Short: "Monitor evolutionary optimization experiments.",
		Long: `evomon watches an experiments directory for evolutionary
optimization runs, tails their trace and rollback logs, and reports
progress to the console, to metrics sinks, and optionally to Postgres
and Pub/Sub.`,

		// Runs after flag parsing and before the subcommand's RunE, so
		// every command sees a validated config and a live logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if _, err := logging.Init(cfg.Logging.Development); err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults plus EVOMON_* env vars)")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newCleanCmd())

	return cmd
}

// resolveConfig retrieves the Config stored by the root PersistentPreRunE.
func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not initialized")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
