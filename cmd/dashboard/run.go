package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/admin"
	"github.com/storefront/livesync/internal/api"
	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/clock"
	"github.com/storefront/livesync/internal/config"
	"github.com/storefront/livesync/internal/connection"
	"github.com/storefront/livesync/internal/dashboard"
	"github.com/storefront/livesync/internal/dispatch"
	"github.com/storefront/livesync/internal/logger"
	"github.com/storefront/livesync/internal/metrics"
	"github.com/storefront/livesync/internal/notify"
	"github.com/storefront/livesync/internal/querycache"
	"github.com/storefront/livesync/internal/transport"
)

func run(ctx context.Context, cfg *config.Config, helpStyle string) error {
	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	var rec metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		rec = metrics.NewCollector(reg)
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Listen))
	}

	signer, err := cfg.Signer()
	if err != nil {
		return fmt.Errorf("create token signer: %w", err)
	}
	tokens := auth.NewMemoryTokenStore(cfg.Auth.Token)
	clk := clock.Real()
	bridge := dashboard.NewBridge(clk)

	qc := querycache.New(querycache.Config{
		Logger:  log.Named("query"),
		Metrics: rec,
		Clock:   clk,
	})
	defer qc.Close()
	client := api.NewClient(cfg.Relay.APIURL, tokens, api.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst))
	api.RegisterQueries(qc, client, cfg.Views.PageSize)

	toasts := notify.NewCenter(clk, 0, 0)
	toasts.OnPush(bridge.ToastPushed)

	views, err := admin.New(admin.Config{
		Query:     qc,
		Toasts:    toasts,
		Clock:     clk,
		MaxLen:    cfg.Views.MaxLen,
		MarkerTTL: cfg.Views.MarkerTTL,
		Logger:    log.Named("views"),
		OnChange:  bridge.ViewsChanged,
	})
	if err != nil {
		return err
	}
	defer views.Close()

	router := dispatch.NewRouter(log.Named("events"), rec)
	admin.Bind(router, views)
	router.Observe(bridge.Event)

	dialer := transport.NewDialer(cfg.TransportOptions(), log.Named("socket"))
	mgr := connection.New(connection.Config{
		Dial:         connection.FromTransport(dialer),
		Tokens:       tokens,
		Reconnection: cfg.Transport.Reconnection,
		Logger:       log.Named("connection"),
		Metrics:      rec,
	})
	defer mgr.Close()

	mgr.OnEvent(router.Dispatch)
	mgr.Subscribe(bridge.Status)
	// Events missed while the link was down are recovered by a refetch.
	mgr.Subscribe(func(st connection.Status) {
		if st.State == connection.Connected {
			views.Load()
		}
	})
	tokens.OnChange(func(string) { mgr.Reevaluate() })

	views.Load()

	m := dashboard.New(dashboard.Deps{
		Manager:   mgr,
		Views:     views,
		Tokens:    tokens,
		Identity:  cfg.Identity(),
		Session:   cfg.Session(),
		Signer:    signer,
		Clock:     clk,
		Logger:    log.Named("ui"),
		HelpStyle: helpStyle,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p.Send)

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}
