package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

const (
	defaultPendingTTL = 24 * time.Hour
	defaultBillTTL    = 72 * time.Hour
	defaultSweepBatch = 50
)

type transactionExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	ExpireUnpaidBills(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type TransactionExpiryJobParams struct {
	Logger     *logger.Logger
	Payments   transactionExpirer
	PendingTTL time.Duration
	BillTTL    time.Duration
	BatchSize  int
}

// NewTransactionExpiryJob fails pending transactions that never reached the
// billing gateway within PendingTTL, and billed ones the provider still
// reports unpaid after BillTTL.
func NewTransactionExpiryJob(params TransactionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	billTTL := params.BillTTL
	if billTTL <= 0 {
		billTTL = defaultBillTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &transactionExpiryJob{
		logg:     params.Logger,
		payments: params.Payments,
		ttl:      ttl,
		billTTL:  billTTL,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type transactionExpiryJob struct {
	logg     *logger.Logger
	payments transactionExpirer
	ttl      time.Duration
	billTTL  time.Duration
	batch    int
	now      func() time.Time
}

func (j *transactionExpiryJob) Name() string { return "transaction-expiry" }

func (j *transactionExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff, billCutoff := now.Add(-j.ttl), now.Add(-j.billTTL)

	var errs error
	expired, err := j.payments.ExpireStale(ctx, cutoff, j.batch)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire stale transactions: %w", err))
	}
	bills, err := j.payments.ExpireUnpaidBills(ctx, billCutoff, j.batch)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire unpaid bills: %w", err))
	}
	if expired+bills > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":        cutoff,
			"bill_cutoff":   billCutoff,
			"expired":       expired,
			"expired_bills": bills,
		}), "stale transactions expired")
	}
	return errs
}
