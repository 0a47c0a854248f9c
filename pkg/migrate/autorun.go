package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date on startup, but only in dev with
// the auto-migrate flag set. The goose files are Postgres SQL, so a SQLite
// store gets GORM's AutoMigrate of the model set instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || client == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if logg == nil {
		logg = logger.Nop()
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": string(client.Driver())})

	switch client.Driver() {
	case db.DriverSQLite:
		logg.Info(ctx, "auto-migrating sqlite schema")
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("sqlite automigrate: %w", err)
		}
	default:
		sqlDB, err := client.DB().DB()
		if err != nil {
			return fmt.Errorf("underlying sql.DB: %w", err)
		}
		if err := ValidateDir(DefaultDir); err != nil {
			return fmt.Errorf("migrations in %s are malformed: %w", DefaultDir, err)
		}
		runner, err := NewRunner(sqlDB, DefaultDir)
		if err != nil {
			return err
		}
		steps, err := runner.Exec(ctx, CommandUp, 0)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{"dir": DefaultDir, "applied": len(steps)}), "goose migrations applied")
	}
	logg.Info(ctx, "schema up to date")
	return nil
}
