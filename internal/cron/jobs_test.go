package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketpay-backend/internal/payments"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

type fakeRetentionRepo struct {
	batches       []int64
	cutoffs       []time.Time
	parkedCutoffs []time.Time
	err           error
}

func (f *fakeRetentionRepo) DeleteParkedBefore(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	f.parkedCutoffs = append(f.parkedCutoffs, cutoff)
	return 0, nil
}

func (f *fakeRetentionRepo) DeletePublishedBefore(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

func TestOutboxRetention_DeletesUntilShortBatch(t *testing.T) {
	now := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeRetentionRepo{batches: []int64{2, 2, 1}}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), Repository: repo, BatchSize: 2})
	require.NoError(t, err)
	job.(*outboxRetentionJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, repo.cutoffs, 3)
	assert.Equal(t, now.Add(-defaultOutboxRetention), repo.cutoffs[0])
	require.Len(t, repo.parkedCutoffs, 1)
	assert.Equal(t, now.Add(-defaultDLQRetention), repo.parkedCutoffs[0])
}

func TestOutboxRetention_PropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), Repository: &fakeRetentionRepo{err: errors.New("boom")}})
	require.NoError(t, err)
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox_events")
}

type fakeExpirer struct {
	cutoff, billCutoff time.Time
	limit              int
	err, billErr       error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoff, f.limit = cutoff, limit
	return 3, f.err
}

func (f *fakeExpirer) ExpireUnpaidBills(_ context.Context, cutoff time.Time, _ int) (int, error) {
	f.billCutoff = cutoff
	return 1, f.billErr
}

func TestTransactionExpiry_UsesTTL(t *testing.T) {
	now := time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{}
	job, err := NewTransactionExpiryJob(TransactionExpiryJobParams{
		Logger:     logger.Nop(),
		Payments:   expirer,
		PendingTTL: 2 * time.Hour,
		BillTTL:    48 * time.Hour,
		BatchSize:  20,
	})
	require.NoError(t, err)
	job.(*transactionExpiryJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-2*time.Hour), expirer.cutoff)
	assert.Equal(t, now.Add(-48*time.Hour), expirer.billCutoff)
	assert.Equal(t, 20, expirer.limit)

	expirer.err = errors.New("partial failure")
	assert.Error(t, job.Run(context.Background()))
}

func TestTransactionExpiry_RunsBothSweepsOnFailure(t *testing.T) {
	expirer := &fakeExpirer{err: errors.New("db down"), billErr: errors.New("bill sweep failed")}
	job, err := NewTransactionExpiryJob(TransactionExpiryJobParams{Logger: logger.Nop(), Payments: expirer})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Contains(t, err.Error(), "bill sweep failed")
	assert.False(t, expirer.billCutoff.IsZero())
	assert.Equal(t, defaultBillTTL, job.(*transactionExpiryJob).billTTL)
}

type fakeVerifier struct {
	rows    []models.Transaction
	results map[string]error
	calls   []string
}

func (f *fakeVerifier) ListAwaitingConfirmation(context.Context, int) ([]models.Transaction, error) {
	return f.rows, nil
}

func (f *fakeVerifier) VerifyPayment(_ context.Context, billID string) (*payments.VerifyResult, error) {
	f.calls = append(f.calls, billID)
	if err := f.results[billID]; err != nil {
		return nil, err
	}
	return &payments.VerifyResult{BillID: billID, Outcome: payments.OutcomeConfirmed}, nil
}

func bill(id string) models.Transaction {
	return models.Transaction{OperatorReference: &id}
}

func TestBillReconcile_AggregatesOnlyHardFailures(t *testing.T) {
	verifier := &fakeVerifier{
		rows: []models.Transaction{bill("b1"), bill("b2"), bill("b3"), bill("b4"), bill("b5"), {}},
		results: map[string]error{
			"b2": pkgerrors.New(pkgerrors.CodeGateway, "timeout"),
			"b3": pkgerrors.New(pkgerrors.CodeAmountMismatch, "mismatch"),
			"b4": pkgerrors.New(pkgerrors.CodeDependency, "db down"),
			"b5": pkgerrors.New(pkgerrors.CodeTransactionNotFound, "gone"),
		},
	}
	job, err := NewBillReconcileJob(BillReconcileJobParams{Logger: logger.Nop(), Payments: verifier})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"b1", "b2", "b3", "b4", "b5"}, verifier.calls)
	assert.Contains(t, err.Error(), "bill b4")
	assert.Contains(t, err.Error(), "bill b5")
	assert.NotContains(t, err.Error(), "bill b2")
	assert.NotContains(t, err.Error(), "bill b3")
}

func TestBillReconcile_CleanPass(t *testing.T) {
	verifier := &fakeVerifier{rows: []models.Transaction{bill("b1")}}
	job, err := NewBillReconcileJob(BillReconcileJobParams{Logger: logger.Nop(), Payments: verifier})
	require.NoError(t, err)
	assert.NoError(t, job.Run(context.Background()))
}
