package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/ebilling"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

const (
	verifyScope          = "bill-verify"
	defaultVerifyTimeout = 30 * time.Second
)

// VerifyPayment reconciles a bill with the provider. Calls for the same bill
// are collapsed in-process and serialised across processes by a redis lock;
// the settle step itself is guarded by a status CAS so a repeated
// verification never counts the payment twice.
func (s *service) VerifyPayment(ctx context.Context, billID string) (*VerifyResult, error) {
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill id is required")
	}
	ctx = s.logg.WithBillID(ctx, billID)

	if err := s.allowVerify(ctx, billID); err != nil {
		return nil, err
	}

	// The shared call outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := s.flight.DoChan(billID, func() (any, error) {
		run, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.verifyTimeout())
		defer cancel()
		return s.verify(run, billID)
	})
	select {
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "verification abandoned by caller")
	case res := <-ch:
		if res.Shared {
			s.logg.Debug(ctx, "verification joined in-flight call")
		}
		result, _ := res.Val.(*VerifyResult)
		s.metrics.IncVerification(outcomeOf(result, res.Err))
		return result, res.Err
	}
}

// verifyTimeout bounds one shared verification; the redis lock expires after
// the same period.
func (s *service) verifyTimeout() time.Duration {
	if s.billing.VerifyLockTTL > 0 {
		return s.billing.VerifyLockTTL
	}
	return defaultVerifyTimeout
}

func (s *service) allowVerify(ctx context.Context, billID string) error {
	if s.limiter == nil || s.billing.VerifyLimit <= 0 {
		return nil
	}
	allowed, count, err := s.limiter.FixedWindowAllow(ctx, verifyScope+":"+billID, int64(s.billing.VerifyLimit), s.billing.VerifyWindow)
	if err != nil {
		s.logg.Error(ctx, "verify rate limiter unavailable", err)
		return nil
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many verification attempts").
			WithDetails(map[string]any{"bill_id": billID, "attempts": count})
	}
	return nil
}

func (s *service) verify(ctx context.Context, billID string) (*VerifyResult, error) {
	txn, err := s.repo.FindByOperatorReference(ctx, billID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
	result := &VerifyResult{BillID: billID, Transaction: txn}
	if done, err := s.settled(txn, result); done || err != nil {
		return result, err
	}

	release, err := s.lockBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing gateway not configured")
	}
	if err := s.repo.Update(ctx, txn.ID, map[string]any{"last_checked_at": s.now().UTC()}); err != nil {
		s.logg.Error(ctx, "record bill check", err)
	}
	bill, err := s.gateway.GetBill(ctx, billID)
	if err != nil {
		s.logg.Error(ctx, "bill lookup failed", err)
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeGateway {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "bill lookup failed")
	}
	result.ProviderState = bill.State

	if !bill.IsPaid() {
		return s.markAwaiting(ctx, txn, bill, result)
	}

	var mismatch error
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.FindForUpdate(ctx, txn.ID)
		if err != nil {
			return err
		}
		result.Transaction = locked
		if done, err := s.settled(locked, result); done || err != nil {
			return err
		}

		var order *models.Order
		if locked.OrderID != nil {
			order, err = s.orders.LockTx(ctx, tx, *locked.OrderID)
			if err != nil {
				return err
			}
			if verr := s.fees.VerifyTransaction(order, locked); verr != nil {
				if !pkgerrors.IsCode(verr, pkgerrors.CodeAmountMismatch) {
					return verr
				}
				mismatch = verr
				return s.flagForReview(ctx, tx, locked, billID, verr)
			}
		}

		method := locked.PaymentMethod
		if bill.PaymentSystemName != "" {
			method = enums.PaymentMethodFromSystem(bill.PaymentSystemName)
		}
		settled, err := s.settleTx(ctx, tx, locked, method, bill.PSTransactionID)
		if err != nil {
			return err
		}
		result.Transaction = settled
		result.Outcome = OutcomeConfirmed
		if settled.NeedsReview {
			result.Outcome = OutcomeHeldForReview
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mismatch != nil {
		result.Outcome = OutcomeMismatch
		if refreshed, ferr := s.repo.FindByID(ctx, txn.ID); ferr == nil {
			result.Transaction = refreshed
		}
		s.logg.Warn(ctx, "paid bill does not match expected amount")
		return result, mismatch
	}
	if result.Transaction.OrderID != nil {
		if order, gerr := s.orders.Get(ctx, *result.Transaction.OrderID); gerr == nil {
			result.Order = order
		}
	}
	switch result.Outcome {
	case OutcomeConfirmed:
		s.logg.Info(ctx, "payment confirmed")
	case OutcomeHeldForReview:
		s.logg.Warn(ctx, "payment settled, order held for review")
	}
	return result, nil
}

// settled fills result for transactions that are no longer pending. It
// reports true when there is nothing left to verify.
func (s *service) settled(txn *models.Transaction, result *VerifyResult) (bool, error) {
	switch txn.Status {
	case enums.TransactionStatusPending:
		return false, nil
	case enums.TransactionStatusPaid:
		result.Outcome = OutcomeAlreadySettled
		return true, nil
	default:
		return true, pkgerrors.Newf(pkgerrors.CodeStateConflict, "transaction is %s", txn.Status).
			WithDetails(map[string]any{"transaction_id": txn.ID, "status": txn.Status})
	}
}

func (s *service) lockBill(ctx context.Context, billID string) (func(), error) {
	noop := func() {}
	if s.locks == nil {
		return noop, nil
	}
	lock, err := redis.NewLock(s.locks, s.locks.LockKey(verifyScope+":"+billID), s.billing.VerifyLockTTL)
	if err != nil {
		return noop, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build verify lock")
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "verify lock unavailable", err)
		return noop, nil
	}
	if !acquired {
		return noop, pkgerrors.New(pkgerrors.CodeConflict, "verification already in progress").
			WithDetails(map[string]any{"bill_id": billID})
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "release verify lock", err)
		}
	}, nil
}

// markAwaiting records the provider's guess at the payment method and leaves
// the transaction pending.
func (s *service) markAwaiting(ctx context.Context, txn *models.Transaction, bill *ebilling.BillState, result *VerifyResult) (*VerifyResult, error) {
	result.Outcome = OutcomePending
	updates := map[string]any{
		"notes": fmt.Sprintf("awaiting provider confirmation (state %s)", strings.TrimSpace(bill.State)),
	}
	if bill.PaymentSystemName != "" {
		updates["payment_method"] = enums.PaymentMethodFromSystem(bill.PaymentSystemName)
	}
	if err := s.repo.Update(ctx, txn.ID, updates); err != nil {
		return nil, dependency(err, "note pending transaction")
	}
	if refreshed, err := s.repo.FindByID(ctx, txn.ID); err == nil {
		result.Transaction = refreshed
	}
	return result, nil
}

func (s *service) flagForReview(ctx context.Context, tx *gorm.DB, txn *models.Transaction, billID string, mismatch error) error {
	note := "amount mismatch: manual review required"
	expected := txn.AmountCents
	if typed := pkgerrors.As(mismatch); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if v, ok := details["expected"].(int64); ok {
				expected = v
				note = fmt.Sprintf("amount mismatch: expected %d, received %d", v, txn.AmountCents)
			}
		}
	}
	if err := s.repo.WithTx(tx).Update(ctx, txn.ID, map[string]any{
		"needs_review": true,
		"notes":        note,
	}); err != nil {
		return dependency(err, "flag transaction for review")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentReviewRequired,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data: payloads.PaymentReviewRequiredEvent{
			TransactionID:  txn.ID,
			OrderID:        txn.OrderID,
			BillID:         billID,
			PaymentPurpose: txn.PaymentPurpose,
			Reason:         payloads.ReviewAmountMismatch,
			ExpectedCents:  expected,
			ActualCents:    txn.AmountCents,
		},
	})
}

// settleTx moves a pending transaction to paid, refreshes the order's paid
// amount and confirms a pending order. The caller holds the transaction row
// lock and has already checked the amount.
func (s *service) settleTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction, method enums.PaymentMethod, operatorTxID string) (*models.Transaction, error) {
	if err := checkTransition(txn.Status, enums.TransactionStatusPaid); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	confirmedAt := s.now().UTC()
	updates := map[string]any{
		"status":       enums.TransactionStatusPaid,
		"confirmed_at": confirmedAt,
	}
	if method.IsValid() {
		updates["payment_method"] = method
	}
	if operatorTxID != "" {
		updates["operator_transaction_id"] = operatorTxID
	}
	if err := s.casStatus(ctx, repo, txn, updates); err != nil {
		return nil, err
	}

	var paidTotal int64
	if txn.OrderID != nil {
		orderID := *txn.OrderID
		if err := s.recomputeOrderPaymentTx(ctx, tx, orderID, &method); err != nil {
			return nil, err
		}
		order, err := s.orders.LockTx(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		paidTotal = order.AmountPaidCents
		if order.Status == enums.OrderStatusPending {
			if err := s.confirmOrderTx(ctx, tx, txn, orderID); err != nil {
				return nil, err
			}
		}
	}

	settled, err := repo.FindByID(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	operatorRef := deref(settled.OperatorReference)
	if err := s.outbox.EmitOnce(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   settled.ID,
		Data: payloads.PaymentSettledEvent{
			TransactionID:     settled.ID,
			OrderID:           settled.OrderID,
			Reference:         settled.Reference,
			OperatorReference: operatorRef,
			AmountCents:       settled.AmountCents,
			AmountPaidCents:   paidTotal,
			PaymentMethod:     settled.PaymentMethod,
			PaymentPurpose:    settled.PaymentPurpose,
			ConfirmedAt:       confirmedAt,
		},
	}); err != nil {
		return nil, err
	}
	return settled, nil
}

// confirmOrderTx advances a pending order to confirmed inside a savepoint.
// A stock shortfall only undoes the confirmation: the payment stays settled
// and the transaction is flagged for review.
func (s *service) confirmOrderTx(ctx context.Context, tx *gorm.DB, txn *models.Transaction, orderID uuid.UUID) error {
	err := tx.Transaction(func(sp *gorm.DB) error {
		_, err := s.orders.UpdateStatusTx(ctx, sp, orderID, enums.OrderStatusConfirmed)
		return err
	})
	if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		return err
	}
	s.logg.Warn(s.logg.WithField(ctx, "order_id", orderID.String()), "paid order left pending: insufficient stock")
	if err := s.repo.WithTx(tx).Update(ctx, txn.ID, map[string]any{
		"needs_review": true,
		"notes":        "paid but order not confirmed: insufficient stock",
	}); err != nil {
		return dependency(err, "flag transaction for review")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentReviewRequired,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data: payloads.PaymentReviewRequiredEvent{
			TransactionID:  txn.ID,
			OrderID:        txn.OrderID,
			BillID:         deref(txn.OperatorReference),
			PaymentPurpose: txn.PaymentPurpose,
			Reason:         payloads.ReviewInsufficientStock,
			ExpectedCents:  txn.AmountCents,
			ActualCents:    txn.AmountCents,
		},
	})
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func outcomeOf(result *VerifyResult, err error) string {
	if err == nil {
		if result != nil && result.Outcome != "" {
			return result.Outcome
		}
		return OutcomeConfirmed
	}
	if result != nil && result.Outcome != "" {
		return result.Outcome
	}
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeTransactionNotFound:
			return OutcomeNotFound
		case pkgerrors.CodeGateway:
			return OutcomeGatewayError
		case pkgerrors.CodeAmountMismatch:
			return OutcomeMismatch
		}
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
