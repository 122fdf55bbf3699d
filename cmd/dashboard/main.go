// Command dashboard is the storefront admin terminal. It keeps one socket to
// the relay per login session and shows the order, product and coupon lists
// as events patch and refetch them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storefront/livesync/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		helpStyle  string
	)
	root := &cobra.Command{
		Use:   "dashboard",
		Short: "Live storefront admin dashboard",
		Long: `dashboard connects to a livesync relay and renders the admin lists.

Configuration comes from livesync.yaml (in . or ~/.config/livesync), .env
files and LIVESYNC_* environment variables, highest last.`,
		Example: `  dashboard
  LIVESYNC_AUTH_TOKEN=$(relay token) dashboard
  dashboard --config ./dev.yaml --help-style light`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, helpStyle)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "config file (default livesync.yaml)")
	root.Flags().StringVar(&helpStyle, "help-style", "dark", "glamour style for the help overlay: dark, light, notty")
	return root
}
