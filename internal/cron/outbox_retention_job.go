package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	outboxDeleteBatch      = 500
)

type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	Repository   outboxRetentionRepo
	Retention    time.Duration
	DLQRetention time.Duration
	BatchSize    int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteParkedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type sweep struct {
	table  string
	window time.Duration
	del    func(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob purges published outbox rows and parked DLQ entries
// once they fall outside their retention windows.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	j := &outboxRetentionJob{
		logg:  params.Logger,
		batch: positive(params.BatchSize, outboxDeleteBatch),
		now:   time.Now,
	}
	j.sweeps = []sweep{
		{"outbox_events", positive(params.Retention, defaultOutboxRetention), params.Repository.DeletePublishedBefore},
		{"outbox_dlq", positive(params.DLQRetention, defaultDLQRetention), params.Repository.DeleteParkedBefore},
	}
	return j, nil
}

func positive[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

type outboxRetentionJob struct {
	logg   *logger.Logger
	sweeps []sweep
	batch  int
	now    func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	for _, s := range j.sweeps {
		cutoff := now.Add(-s.window)
		total, err := j.drain(ctx, s, cutoff)
		if err != nil {
			return fmt.Errorf("purge %s: %w", s.table, err)
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"table":        s.table,
			"cutoff":       cutoff,
			"rows_deleted": total,
		}), "outbox retention sweep complete")
	}
	return nil
}

// drain deletes batch after batch until one comes back short.
func (j *outboxRetentionJob) drain(ctx context.Context, s sweep, cutoff time.Time) (int64, error) {
	var total int64
	for ctx.Err() == nil {
		n, err := s.del(ctx, cutoff, j.batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			return total, nil
		}
	}
	return total, ctx.Err()
}
