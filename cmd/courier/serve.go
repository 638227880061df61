package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bissquit/courier/internal/app"
	"github.com/bissquit/courier/internal/version"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled queue sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer a.Close()

			slog.Info("courier starting",
				"version", version.Version,
				"commit", version.GitCommit,
				"storage", cfg.Storage.Driver,
				"email_enabled", cfg.Email.Enabled,
				"sms_enabled", cfg.SMS.Enabled,
				"sweeper_enabled", cfg.Sweeper.Enabled,
			)

			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			slog.Info("courier stopped")
			return nil
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
