package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketpay-backend/api/routes"
	"github.com/angelmondragon/marketpay-backend/internal/bootstrap"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Start(ctx, "api", bootstrap.RedisOptional)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error(ctx, "closing resources", err)
		}
	}()
	logg := rt.Logger

	domain, err := bootstrap.NewDomain(bootstrap.Params{
		Config:  rt.Config,
		DB:      rt.DB,
		Redis:   rt.Redis,
		Metrics: metrics.NewReconciliation(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	params := routes.Params{
		Config:   rt.Config,
		Logger:   logg,
		DB:       rt.DB,
		Orders:   domain.Orders,
		Quoter:   domain.Fees,
		Payments: domain.Payments,
		Cart:     domain.Cart,
	}
	// Redis backs idempotency, rate limits and verify locks; the API still
	// serves without it.
	if rt.Redis != nil {
		params.Redis = rt.Redis
		params.Idempotency = rt.Redis
	} else {
		logg.Warn(ctx, "redis not configured; idempotency and verify locks disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = rt.Config.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx = logg.WithField(rt.Context(ctx), "addr", server.Addr)

	served := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api listening")
		served <- server.ListenAndServe()
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logg.Info(ctx, "draining api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
