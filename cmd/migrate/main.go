package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/marketpay-backend/internal/bootstrap"
	"github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/migrate"
)

type flags struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var f flags
	flag.StringVar(&f.cmd, "cmd", "up", "up|down|status|redo|version|create|validate")
	flag.StringVar(&f.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&f.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&f.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	// create and validate never touch the database.
	switch f.cmd {
	case "create":
		if f.name == "" {
			return errors.New("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(f.dir, f.name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(f.dir); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	}

	cmd, err := migrate.ParseCommand(f.cmd)
	if err != nil {
		return err
	}
	var target int64
	if cmd == migrate.CommandVersion {
		if target, err = migrate.ParseVersion(f.version); err != nil {
			return err
		}
	}

	rt, err := bootstrap.Start(ctx, "migrate", bootstrap.RedisUnused, bootstrap.WithoutDevMigrations())
	if err != nil {
		return err
	}
	defer rt.Close()
	logg := rt.Logger
	ctx = logg.WithFields(rt.Context(ctx), map[string]any{"cmd": f.cmd, "dir": f.dir})

	if rt.DB.Driver() == db.DriverSQLite {
		// goose files are postgres SQL; sqlite stores take the model schema.
		if cmd != migrate.CommandUp {
			return errors.New("sqlite stores only support -cmd=up")
		}
		if err := rt.DB.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("sqlite automigrate: %w", err)
		}
		logg.Info(ctx, "sqlite schema migrated")
		return nil
	}

	if err := migrate.ValidateDir(f.dir); err != nil {
		return err
	}
	sqlDB, err := rt.DB.DB().DB()
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, f.dir)
	if err != nil {
		return err
	}
	steps, err := runner.Exec(ctx, cmd, target)
	if err != nil {
		return err
	}
	for _, step := range steps {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     step.Version,
			"path":        step.Path,
			"applied":     step.Applied,
			"duration_ms": step.Duration.Milliseconds(),
		}), "migration")
	}
	logg.Info(logg.WithField(ctx, "steps", len(steps)), "migrate finished")
	return nil
}
