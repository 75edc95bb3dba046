package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/glimte/domainbus"
	"github.com/glimte/domainbus/email"
	"github.com/glimte/domainbus/handlers"
	"github.com/glimte/domainbus/health"
	"github.com/glimte/domainbus/internal/admin"
	"github.com/glimte/domainbus/internal/telemetry"
	"github.com/glimte/domainbus/outbox"
)

// outboxBacklogThreshold is the pending count above which the outbox reports degraded
const outboxBacklogThreshold = 1000

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume domain events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, *configPath)
		},
	}
}

func runWorker(ctx context.Context, configPath string) error {
	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	sender, err := email.New(cfg.Email, logger)
	if err != nil {
		return err
	}

	bus, err := domainbus.New(cfg,
		domainbus.WithLogger(logger),
		domainbus.WithTracing(tel.TracerProvider(), telemetry.Propagator()),
	)
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := handlers.Register(bus.Registry(), handlers.Deps{
		Emails:      sender,
		FrontendURL: cfg.App.FrontendURL,
		Logger:      logger,
	}); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	if err := bus.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Outbox.Enabled {
		store, err := outbox.Open(cfg.Outbox.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		bus.Health().Register(health.NewOutboxChecker(store, outboxBacklogThreshold))
		relay := outbox.NewRelay(store, bus.Publisher(),
			outbox.WithRelayLogger(logger),
			outbox.WithPollInterval(cfg.Outbox.PollInterval),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	if cfg.Admin.Addr != "" {
		server := admin.NewServer(cfg.Admin.Addr, bus.Health(), logger)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	logger.Info("worker running",
		"queue", cfg.Broker.Queue,
		"handlers", bus.Registry().EventTypes())

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("shutting down worker")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
