package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/courier/internal/app"
	"github.com/spf13/cobra"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <service>",
		Short: "Issue a service token for an API caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return errors.New("auth.secret is not configured")
			}

			authenticator, err := app.NewAuthenticator(cfg.Auth)
			if err != nil {
				return err
			}

			token, err := authenticator.IssueToken(args[0], ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; 0 uses auth.token_ttl")
	return cmd
}
