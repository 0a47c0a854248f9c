package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marketpay-backend/internal/payments"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

type billVerifier interface {
	ListAwaitingConfirmation(ctx context.Context, limit int) ([]models.Transaction, error)
	VerifyPayment(ctx context.Context, billID string) (*payments.VerifyResult, error)
}

type BillReconcileJobParams struct {
	Logger    *logger.Logger
	Payments  billVerifier
	BatchSize int
}

// NewBillReconcileJob polls the billing gateway for transactions that have a
// bill but are still pending, for payers whose confirmation callback never
// arrived.
func NewBillReconcileJob(params BillReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &billReconcileJob{logg: params.Logger, payments: params.Payments, batch: batch}, nil
}

type billReconcileJob struct {
	logg     *logger.Logger
	payments billVerifier
	batch    int
}

func (j *billReconcileJob) Name() string { return "bill-reconcile" }

func (j *billReconcileJob) Run(ctx context.Context) error {
	rows, err := j.payments.ListAwaitingConfirmation(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list awaiting confirmation: %w", err)
	}

	outcomes := map[string]int{}
	var errs error
	for _, row := range rows {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if row.OperatorReference == nil {
			continue
		}
		billID := *row.OperatorReference
		result, err := j.payments.VerifyPayment(ctx, billID)
		if err != nil {
			typed := pkgerrors.As(err)
			switch {
			case deferrable(typed):
				// next cycle retries
				outcomes["skipped"]++
				j.logg.Warn(j.logg.WithBillID(ctx, billID), "bill verification deferred: "+err.Error())
			case typed != nil && typed.Code() == pkgerrors.CodeAmountMismatch:
				outcomes[payments.OutcomeMismatch]++
			default:
				errs = multierr.Append(errs, fmt.Errorf("bill %s: %w", billID, err))
			}
			continue
		}
		outcomes[result.Outcome]++
	}

	fields := map[string]any{"checked": len(rows)}
	for outcome, n := range outcomes {
		fields[outcome] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "bill reconciliation pass complete")
	return errs
}

func deferrable(err *pkgerrors.Error) bool {
	if err == nil {
		return false
	}
	switch err.Code() {
	case pkgerrors.CodeGateway, pkgerrors.CodeConflict, pkgerrors.CodeRateLimit:
		return true
	default:
		return false
	}
}
