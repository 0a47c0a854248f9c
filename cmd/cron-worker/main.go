package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketpay-backend/internal/bootstrap"
	"github.com/angelmondragon/marketpay-backend/internal/cron"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cron-worker:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// The cycle lock needs redis even when the API runs without it.
	rt, err := bootstrap.Start(ctx, "cron-worker", bootstrap.RedisRequired)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error(ctx, "closing resources", err)
		}
	}()
	cfg, logg := rt.Config, rt.Logger

	domain, err := bootstrap.NewDomain(bootstrap.Params{
		Config:  cfg,
		DB:      rt.DB,
		Redis:   rt.Redis,
		Metrics: metrics.NewReconciliation(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	jobs, err := buildJobs(cfg.Billing.Configured(), domain, rt)
	if err != nil {
		return err
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		return err
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := redis.NewLock(rt.Redis, rt.Redis.LockKey("cron-worker:"+env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx = rt.Context(ctx)
	logg.Info(logg.WithField(ctx, "jobs", len(registry.Jobs())), "starting cron worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker stopped")
	return nil
}

// buildJobs returns the sweeps in run order. Bill reconciliation needs the
// gateway and is skipped without it.
func buildJobs(billing bool, domain *bootstrap.Domain, rt *bootstrap.Runtime) ([]cron.Job, error) {
	cfg, logg := rt.Config, rt.Logger

	expiry, err := cron.NewTransactionExpiryJob(cron.TransactionExpiryJobParams{
		Logger:     logg,
		Payments:   domain.Payments,
		PendingTTL: cfg.Payments.PendingTTL,
		BillTTL:    cfg.Payments.BillTTL,
		BatchSize:  cfg.Payments.ReconcileBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("transaction expiry job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		Repository:   domain.Outbox,
		Retention:    cfg.Outbox.Retention,
		DLQRetention: cfg.Outbox.DLQRetention,
		BatchSize:    cfg.Outbox.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	jobs := []cron.Job{expiry, retention}

	if !billing {
		logg.Warn(context.Background(), "billing gateway not configured; bill reconciliation disabled")
		return jobs, nil
	}
	reconcile, err := cron.NewBillReconcileJob(cron.BillReconcileJobParams{
		Logger:    logg,
		Payments:  domain.Payments,
		BatchSize: cfg.Payments.ReconcileBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("bill reconcile job: %w", err)
	}
	return append(jobs, reconcile), nil
}
