package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/logger"
	"github.com/storefront/livesync/internal/metrics"
	"github.com/storefront/livesync/internal/relay"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port int
		mode string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Example: `  relay serve
  relay serve --source redis --config relay.yaml
  relay serve --port 9090 --source none`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := relay.LoadOrDefault(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if mode != "" {
				cfg.Source.Mode = mode
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&mode, "source", "", "event source: mock, redis or none")
	return cmd
}

func serve(ctx context.Context, cfg *relay.Config) error {
	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	issuer, err := cfg.Issuer()
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}
	if issuer == nil {
		log.Warn("auth.secret is empty; accepting unauthenticated sockets")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	store := relay.NewStore()
	b := relay.NewBroadcaster(cfg.Server.MaxConnections, cfg.Server.SendBuffer, log.Named("broadcast"), rec)
	defer b.Stop()

	if err := startSource(ctx, cfg, store, b, log); err != nil {
		return err
	}

	srv := relay.NewServer(relay.ServerDeps{
		Store:          store,
		Broadcaster:    b,
		Issuer:         issuer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log.Named("http"),
		Metrics:        rec,
		Gatherer:       reg,
	})
	return relay.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, srv.Routes(), log)
}

func startSource(ctx context.Context, cfg *relay.Config, store *relay.Store, b *relay.Broadcaster, log *zap.Logger) error {
	switch cfg.Source.Mode {
	case "mock":
		gen := relay.NewGenerator(store, b, cfg.Source.Interval, 0, log.Named("mock"))
		gen.Seed(cfg.Source.Seed)
		gen.Start(ctx)
		log.Info("mock storefront started",
			zap.Duration("interval", cfg.Source.Interval),
			zap.Int("seed", cfg.Source.Seed))
	case "redis":
		client, err := relay.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		src := relay.NewRedisSource(client, cfg.Redis.Channel, store, b, log.Named("redis"))
		go func() {
			defer client.Close()
			if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis source stopped", zap.Error(err))
			}
		}()
	case "none":
		log.Info("no event source configured")
	default:
		return fmt.Errorf("unknown source mode %q", cfg.Source.Mode)
	}
	return nil
}
