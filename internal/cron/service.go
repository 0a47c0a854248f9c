package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultJobTimeout = 2 * time.Minute
)

// Lock keeps a cycle single-instance across workers. *redis.Lock satisfies it.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval between cycle starts. Defaults to five minutes.
	Interval time.Duration
	// JobTimeout bounds each job's context. Defaults to two minutes.
	JobTimeout time.Duration
}

// Service runs every registered job once per cycle, in order, while holding
// the distributed lock. One job failing or panicking does not stop the rest.
type Service struct {
	logg       *logger.Logger
	jobs       []Job
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	var missing []error
	if params.Logger == nil {
		missing = append(missing, errors.New("logger required"))
	}
	if params.Lock == nil {
		missing = append(missing, errors.New("lock required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	s := &Service{
		logg:       params.Logger,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if params.Registry != nil {
		s.jobs = params.Registry.Jobs()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	return s, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle, logging instead of returning failures.
func (s *Service) RunOnce(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "cron cycle failed", err)
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !held {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "cron lock held elsewhere; skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release cron lock", err)
		}
	}()

	var failed []string
	for _, job := range s.jobs {
		if err := s.runJob(ctx, job); err != nil {
			failed = append(failed, job.Name())
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"jobs": len(s.jobs), "failed": failed}), "cron cycle complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
		took := time.Since(start)
		s.metrics.Observe(job.Name(), took, err)
		ctx := s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
		if err != nil {
			s.logg.Error(ctx, "cron job failed", err)
			return
		}
		s.logg.Debug(ctx, "cron job done")
	}()
	return job.Run(ctx)
}
