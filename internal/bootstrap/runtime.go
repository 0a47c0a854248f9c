package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/instance"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/migrate"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

// RedisMode says whether a binary needs Redis.
type RedisMode int

const (
	RedisOptional RedisMode = iota
	RedisRequired
	// RedisUnused never opens Redis, even when configured.
	RedisUnused
)

type startOptions struct {
	skipDevMigrations bool
}

// Option tweaks Start.
type Option func(*startOptions)

// WithoutDevMigrations leaves the schema alone on startup.
func WithoutDevMigrations() Option {
	return func(o *startOptions) { o.skipDevMigrations = true }
}

// Runtime is what every binary opens before its own wiring: config, the
// structured logger, the database and, when configured, Redis.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	// Redis is nil when optional and not configured.
	Redis *redis.Client

	closers []func() error
}

// Start loads .env and config, then opens the database (running dev
// migrations when enabled) and Redis. Anything opened before a failure is
// closed again.
func Start(ctx context.Context, kind string, mode RedisMode, opts ...Option) (rt *Runtime, err error) {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}
	boot := logger.New(logger.Options{ServiceName: kind})
	if loadErr := godotenv.Load(); loadErr != nil {
		boot.Debug(ctx, ".env not loaded; using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	rt = &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	rt.DB, err = db.New(ctx, cfg.DB, db.Options{UseSQLite: cfg.FeatureFlags.UseSQLite}, rt.Logger)
	if err != nil {
		return rt, fmt.Errorf("open database: %w", err)
	}
	rt.closers = append(rt.closers, rt.DB.Close)

	if !o.skipDevMigrations {
		if err = migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
			return rt, fmt.Errorf("dev migrations: %w", err)
		}
	}

	switch {
	case mode == RedisUnused:
	case cfg.Redis.Enabled():
		rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger)
		if err != nil {
			return rt, fmt.Errorf("open redis: %w", err)
		}
		rt.closers = append(rt.closers, rt.Redis.Close)
	case mode == RedisRequired:
		return rt, errors.New("redis is required but not configured")
	}
	return rt, nil
}

// Context tags ctx with the fields every log line of this process carries.
func (rt *Runtime) Context(ctx context.Context) context.Context {
	return rt.Logger.WithFields(ctx, map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": rt.Config.Service.Kind,
		"instance":     instance.GetID(),
	})
}

// Close releases resources in reverse opening order.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}
