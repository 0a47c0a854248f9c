package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

// Command is a schema operation understood by Runner.Exec.
type Command string

const (
	CommandUp      Command = "up"
	CommandDown    Command = "down"
	CommandStatus  Command = "status"
	CommandRedo    Command = "redo"
	CommandVersion Command = "version"
)

func ParseCommand(raw string) (Command, error) {
	switch cmd := Command(raw); cmd {
	case CommandUp, CommandDown, CommandStatus, CommandRedo, CommandVersion:
		return cmd, nil
	default:
		return "", fmt.Errorf("unsupported migrate command %q", raw)
	}
}

// ParseVersion reads a YYYYMMDDHHMMSS migration version.
func ParseVersion(raw string) (int64, error) {
	if len(raw) != len(versionLayout) {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", raw)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return v, nil
}

// Step reports one migration touched or inspected by a command.
type Step struct {
	Version  int64
	Path     string
	Applied  bool
	Duration time.Duration
}

// Runner applies the goose SQL files in a directory to a Postgres database.
type Runner struct {
	provider *goose.Provider
}

func NewRunner(db *sql.DB, dir string) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if dir == "" {
		return nil, errors.New("dir is required")
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("goose provider for %s: %w", dir, err)
	}
	return &Runner{provider: p}, nil
}

// Exec runs cmd. target is only read by CommandVersion.
func (r *Runner) Exec(ctx context.Context, cmd Command, target int64) ([]Step, error) {
	var (
		results []*goose.MigrationResult
		err     error
	)
	switch cmd {
	case CommandUp:
		results, err = r.provider.Up(ctx)
	case CommandDown:
		results, err = one(r.provider.Down(ctx))
	case CommandRedo:
		if results, err = one(r.provider.Down(ctx)); err == nil {
			var up []*goose.MigrationResult
			up, err = one(r.provider.UpByOne(ctx))
			results = append(results, up...)
		}
	case CommandVersion:
		results, err = r.to(ctx, target)
	case CommandStatus:
		return r.Status(ctx)
	default:
		return nil, fmt.Errorf("unsupported migrate command %q", cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("goose %s: %w", cmd, err)
	}
	steps := make([]Step, 0, len(results))
	for _, res := range results {
		steps = append(steps, Step{
			Version:  res.Source.Version,
			Path:     res.Source.Path,
			Applied:  res.Direction == "up",
			Duration: res.Duration,
		})
	}
	return steps, nil
}

// Status lists every migration file and whether the database has applied it.
func (r *Runner) Status(ctx context.Context) ([]Step, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	steps := make([]Step, 0, len(statuses))
	for _, st := range statuses {
		steps = append(steps, Step{
			Version: st.Source.Version,
			Path:    st.Source.Path,
			Applied: st.State == goose.StateApplied,
		})
	}
	return steps, nil
}

func (r *Runner) to(ctx context.Context, target int64) ([]*goose.MigrationResult, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}
	switch {
	case current < target:
		return r.provider.UpTo(ctx, target)
	case current > target:
		return r.provider.DownTo(ctx, target)
	}
	return nil, nil
}

func one(res *goose.MigrationResult, err error) ([]*goose.MigrationResult, error) {
	if res == nil {
		return nil, err
	}
	return []*goose.MigrationResult{res}, err
}
