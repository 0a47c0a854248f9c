package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketpay-backend/internal/bootstrap"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/marketpay-backend/pkg/pubsub"
)

const deliveryMarkerTTL = 7 * 24 * time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "outbox-publisher:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Start(ctx, "outbox-publisher", bootstrap.RedisOptional)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error(ctx, "closing resources", err)
		}
	}()
	cfg, logg := rt.Config, rt.Logger

	ps, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	defer func() {
		if err := ps.Close(); err != nil {
			logg.Error(ctx, "closing pubsub", err)
		}
	}()

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	// Without redis a row whose MarkPublished failed may be delivered twice.
	var guard deliveryGuard
	if rt.Redis != nil {
		g, err := idempotency.NewGuard(rt.Redis, publisherName, deliveryMarkerTTL)
		if err != nil {
			return fmt.Errorf("delivery guard: %w", err)
		}
		guard = g
	} else {
		logg.Warn(ctx, "redis not configured; delivery dedupe disabled")
	}

	repo := outbox.NewRepository(rt.DB.DB())
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		PubSub:     ps,
		Repository: repo,
		Registry:   events,
		DLQ:        repo,
		Guard:      guard,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	ctx = rt.Context(ctx)
	logg.Info(logg.WithField(ctx, "topics", events.Topics()), "starting outbox publisher")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "outbox publisher stopped")
	return nil
}
