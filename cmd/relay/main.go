// Command relay fans storefront events out to dashboard sockets and serves
// the lists those dashboards refetch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "relay",
		Short: "Storefront event relay",
		Long: `relay accepts authenticated dashboard sockets, fans out named storefront
events to all of them, and serves the order, product, coupon and analytics
lists the dashboards refetch after each event.

Events come from a built-in mock storefront or from a Redis channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "relay.yaml", "path to the relay config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newEmitCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}
