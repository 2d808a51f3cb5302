package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarkoPoloResearchLab/tutorbook/internal/app"
	"github.com/MarkoPoloResearchLab/tutorbook/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tutord: %v\n", err)
		os.Exit(1)
	}
}

type rootState struct {
	cfg       config.Config
	newLogger func() (*zap.Logger, error)
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithLogger(func() (*zap.Logger, error) { return zap.NewProduction() })
}

func newRootCommandWithLogger(newLogger func() (*zap.Logger, error)) *cobra.Command {
	state := &rootState{newLogger: newLogger}
	cmd := &cobra.Command{
		Use:           "tutord",
		Short:         "Tutoring marketplace escrow daemon and admin tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			state.cfg = cfg
			return nil
		},
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(state),
		newMigrateCommand(state),
		newDepositCommand(state),
		newBookingCommand(state),
		newSettingsCommand(state),
	)
	return cmd
}

// withRuntime builds a runtime for one command and releases it afterwards.
func (state *rootState) withRuntime(ctx context.Context, fn func(ctx context.Context, runtime *app.Runtime, logger *zap.Logger) error) error {
	logger, err := state.newLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	runtime, err := app.New(ctx, state.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			logger.Warn("runtime close", zap.Error(closeErr))
		}
	}()
	return fn(ctx, runtime, logger)
}

func newServeCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the escrow scheduler, notification worker and ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return state.withRuntime(ctx, func(ctx context.Context, runtime *app.Runtime, logger *zap.Logger) error {
				logger.Info("tutord starting",
					zap.String("ops_listen_addr", state.cfg.OpsListenAddr),
					zap.Duration("scheduler_interval", state.cfg.SchedulerInterval),
					zap.Duration("outbox_interval", state.cfg.OutboxInterval),
				)
				err := runtime.Serve(ctx)
				logger.Info("shutdown complete")
				return err
			})
		},
	}
}

func newMigrateCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.withRuntime(cmd.Context(), func(ctx context.Context, runtime *app.Runtime, logger *zap.Logger) error {
				if err := runtime.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}
