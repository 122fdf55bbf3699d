package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefront/livesync/internal/relay"
)

func newEmitCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <event> [json]",
		Short: "Publish one event to the relay's Redis channel",
		Long: `emit publishes a named event on the Redis channel a relay started with
--source redis listens to. The payload defaults to {}.`,
		Example: `  relay emit newOrder '{"id":"o-1","orderNumber":"1001","status":"pending"}'
  relay emit orderStatusUpdated '{"orderId":"o-1","status":"shipped"}'
  relay emit analytics:updated '{"type":"order"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := emitPayload(args)
			if err != nil {
				return err
			}
			cfg, err := relay.LoadOrDefault(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			client, err := relay.NewRedisClient(cmd.Context(), cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			pub := relay.NewRedisPublisher(client, cfg.Redis.Channel)
			if err := pub.Publish(cmd.Context(), args[0], payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", args[0], cfg.Redis.Channel)
			return nil
		},
	}
	return cmd
}

// emitPayload returns the JSON argument, or {} when absent.
func emitPayload(args []string) (json.RawMessage, error) {
	if len(args) < 2 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(args[1])) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(args[1]), nil
}
