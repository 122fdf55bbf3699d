package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/relay"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		session auth.Session
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for a dashboard",
		Example: `  relay token --user admin --email ops@example.com
  LIVESYNC_AUTH_TOKEN=$(relay token) livesync-dashboard`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := relay.LoadOrDefault(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if ttl > 0 {
				cfg.Auth.TokenTTL = ttl
			}
			issuer, err := cfg.Issuer()
			if err != nil {
				return err
			}
			if issuer == nil {
				return errors.New("auth.secret is not set; the relay accepts any socket and needs no token")
			}

			token, exp, err := issuer.Issue(session)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&session.UserID, "user", "admin", "subject of the token")
	cmd.Flags().StringVar(&session.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&session.Role, "role", "admin", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}
