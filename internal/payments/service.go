package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/internal/fees"
	"github.com/angelmondragon/marketpay-backend/internal/orders"
	"github.com/angelmondragon/marketpay-backend/pkg/config"
	dbpkg "github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderPort is the slice of the orders service the payment path drives.
type orderPort interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, target enums.OrderStatus) (*models.Order, error)
	SetPaymentTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, update orders.PaymentUpdate) error
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type lockProvider interface {
	redis.LockStore
	LockKey(scope string) string
}

// Service runs the transaction state machine and payment verification.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*models.Transaction, error)
	InitiateMobilePayment(ctx context.Context, input GatewayPaymentInput) (*GatewayPaymentResult, error)
	InitiateCardPayment(ctx context.Context, input GatewayPaymentInput) (*GatewayPaymentResult, error)
	VerifyPayment(ctx context.Context, billID string) (*VerifyResult, error)
	Create(ctx context.Context, input CreateInput) (*models.Transaction, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	RecomputeOrderPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
	ExpireUnpaidBills(ctx context.Context, cutoff time.Time, limit int) (int, error)
	ListAwaitingConfirmation(ctx context.Context, limit int) ([]models.Transaction, error)
}

// ServiceParams bundles the payment service dependencies. Gateway, Limiter
// and Locks are optional.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Orders  orderPort
	Fees    *fees.Verifier
	Outbox  outboxPublisher
	Gateway Gateway
	Limiter rateLimiter
	Locks   lockProvider
	Metrics *metrics.Reconciliation
	Billing config.BillingConfig
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	orders  orderPort
	fees    *fees.Verifier
	outbox  outboxPublisher
	gateway Gateway
	limiter rateLimiter
	locks   lockProvider
	metrics *metrics.Reconciliation
	billing config.BillingConfig
	logg    *logger.Logger
	now     func() time.Time
	flight  singleflight.Group
}

// NewService builds the payments service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	verifier := params.Fees
	if verifier == nil {
		verifier = fees.Default()
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		orders:  params.Orders,
		fees:    verifier,
		outbox:  params.Outbox,
		gateway: params.Gateway,
		limiter: params.Limiter,
		locks:   params.Locks,
		metrics: params.Metrics,
		billing: params.Billing,
		logg:    logg,
		now:     now,
	}, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (*models.Transaction, error) {
	txn, _, err := s.initiate(ctx, input)
	return txn, err
}

func (s *service) initiate(ctx context.Context, input InitiateInput) (*models.Transaction, *models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", input.PaymentMethod)
	}
	if input.AmountCents < 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot be negative")
	}
	// Unknown purposes are settled as full payments.
	purpose := input.PaymentPurpose.Normalize()

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
		return nil, nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "order is %s", order.Status)
	}

	amount := input.AmountCents
	if purpose.HasFixedAmount() && amount == 0 {
		exp, err := s.fees.Expected(order, purpose)
		if err != nil {
			return nil, nil, err
		}
		if exp.ExpectedCents <= 0 {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "nothing to pay for %s", purpose)
		}
		amount = exp.ExpectedCents
	}
	if err := s.fees.Verify(order, purpose, amount); err != nil {
		return nil, nil, err
	}

	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = newReference(s.now())
	}
	orderID := order.ID
	txn := &models.Transaction{
		OrderID:        &orderID,
		Reference:      reference,
		AmountCents:    amount,
		PaymentMethod:  input.PaymentMethod,
		PaymentPurpose: purpose,
		Status:         enums.TransactionStatusPending,
		PhoneNumber:    trimmed(input.PhoneNumber),
		Notes:          input.Notes,
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		return nil, nil, createError(err)
	}

	ctx = s.logg.WithTransactionID(s.logg.WithOrderID(ctx, order.ID.String()), txn.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"amount_cents": amount,
		"purpose":      purpose,
		"method":       input.PaymentMethod,
	}), "payment initiated")
	return txn, order, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Transaction, error) {
	status := input.Status
	if status == "" {
		status = enums.TransactionStatusPending
	}
	if status != enums.TransactionStatusPending && status != enums.TransactionStatusPaid {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "transactions can only be recorded as pending or paid, not %q", status)
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", input.PaymentMethod)
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.OrderID != nil {
		if _, err := s.orders.Get(ctx, *input.OrderID); err != nil {
			return nil, err
		}
	}
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = newReference(s.now())
	}

	txn := &models.Transaction{
		OrderID:        input.OrderID,
		Reference:      reference,
		AmountCents:    input.AmountCents,
		PaymentMethod:  input.PaymentMethod,
		PaymentPurpose: input.PaymentPurpose.Normalize(),
		Status:         enums.TransactionStatusPending,
		PhoneNumber:    trimmed(input.PhoneNumber),
		Notes:          input.Notes,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
			return createError(err)
		}
		if status != enums.TransactionStatusPaid {
			return nil
		}
		if txn.OrderID != nil {
			order, err := s.orders.LockTx(ctx, tx, *txn.OrderID)
			if err != nil {
				return err
			}
			if err := s.fees.VerifyTransaction(order, txn); err != nil {
				return err
			}
		}
		_, err := s.settleTx(ctx, tx, txn, txn.PaymentMethod, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, txn.ID)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Transaction, error) {
	updates := map[string]any{}
	if input.PhoneNumber != nil {
		updates["phone_number"] = strings.TrimSpace(*input.PhoneNumber)
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
	}
	if input.PaymentMethod != nil {
		if !input.PaymentMethod.IsValid() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", *input.PaymentMethod)
		}
		updates["payment_method"] = *input.PaymentMethod
	}
	if len(updates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, dependency(err, "update transaction")
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", *params.Status)
	}
	rows, next, err := s.repo.List(ctx, listParams{
		Limit:   params.Limit,
		Cursor:  cursor,
		OrderID: params.OrderID,
		Status:  params.Status,
	})
	if err != nil {
		return nil, dependency(err, "list transactions")
	}
	out := &ListResult{Transactions: rows}
	if next != nil {
		out.NextCursor = pagination.EncodeCursor(*next)
	}
	return out, nil
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status == enums.TransactionStatusFailed {
			return nil
		}
		if err := checkTransition(txn.Status, enums.TransactionStatusFailed); err != nil {
			return err
		}
		updates := map[string]any{"status": enums.TransactionStatusFailed}
		if reason = strings.TrimSpace(reason); reason != "" {
			updates["notes"] = reason
		}
		if err := s.casStatus(ctx, repo, txn, updates); err != nil {
			return err
		}
		return s.emitStatus(ctx, tx, enums.EventPaymentFailed, txn, enums.TransactionStatusFailed, reason)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) Refund(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status == enums.TransactionStatusRefunded {
			return nil
		}
		if err := checkTransition(txn.Status, enums.TransactionStatusRefunded); err != nil {
			return err
		}
		updates := map[string]any{"status": enums.TransactionStatusRefunded}
		if reason = strings.TrimSpace(reason); reason != "" {
			updates["notes"] = reason
		}
		if err := s.casStatus(ctx, repo, txn, updates); err != nil {
			return err
		}
		if txn.OrderID != nil {
			if err := s.recomputeOrderPaymentTx(ctx, tx, *txn.OrderID, nil); err != nil {
				return err
			}
		}
		return s.emitStatus(ctx, tx, enums.EventPaymentRefunded, txn, enums.TransactionStatusRefunded, reason)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) RecomputeOrderPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.orders.LockTx(ctx, tx, orderID); err != nil {
			return err
		}
		if err := s.recomputeOrderPaymentTx(ctx, tx, orderID, nil); err != nil {
			return err
		}
		var err error
		order, err = s.orders.LockTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// recomputeOrderPaymentTx sets amount_paid to the sum of paid transactions.
// Any paid amount marks the order paid; with nothing paid but something
// refunded it becomes refunded; otherwise the status is left alone.
func (s *service) recomputeOrderPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, method *enums.PaymentMethod) error {
	repo := s.repo.WithTx(tx)
	paid, _, err := repo.SumByStatus(ctx, orderID, enums.TransactionStatusPaid)
	if err != nil {
		return dependency(err, "sum paid transactions")
	}
	update := orders.PaymentUpdate{AmountPaidCents: paid, Method: method}
	if paid > 0 {
		update.Status = enums.OrderPaymentStatusPaid
	} else {
		_, refunded, err := repo.SumByStatus(ctx, orderID, enums.TransactionStatusRefunded)
		if err != nil {
			return dependency(err, "count refunded transactions")
		}
		if refunded > 0 {
			update.Status = enums.OrderPaymentStatusRefunded
		}
	}
	return s.orders.SetPaymentTx(ctx, tx, orderID, update)
}

// ExpireStale fails pending transactions created before cutoff that never
// reached the gateway.
func (s *service) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	rows, err := s.repo.ListPending(ctx, pendingFilter{CreatedBefore: &cutoff, Limit: limit})
	if err != nil {
		return 0, dependency(err, "list stale transactions")
	}
	var (
		expired int
		errs    error
	)
	for _, row := range rows {
		if _, err := s.MarkFailed(ctx, row.ID, "expired without payment"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("transaction %s: %w", row.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

// ExpireUnpaidBills gives billed transactions created before cutoff one last
// verification and fails those the provider still reports unpaid. Rows
// flagged for review are left to an operator; gateway and rate-limit errors
// defer the row to the next sweep.
func (s *service) ExpireUnpaidBills(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if s.gateway == nil {
		return 0, nil
	}
	rows, err := s.repo.ListPending(ctx, pendingFilter{WithBill: true, SkipReview: true, CreatedBefore: &cutoff, Limit: limit})
	if err != nil {
		return 0, dependency(err, "list unpaid bills")
	}
	var (
		expired int
		errs    error
	)
	for _, row := range rows {
		if ctx.Err() != nil {
			return expired, multierr.Append(errs, ctx.Err())
		}
		billID := *row.OperatorReference
		result, err := s.VerifyPayment(ctx, billID)
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeGateway), pkgerrors.IsCode(err, pkgerrors.CodeRateLimit):
			s.logg.Warn(s.logg.WithBillID(ctx, billID), "bill expiry deferred")
			continue
		case pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch):
			continue
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("bill %s: %w", billID, err))
			continue
		case result.Outcome != OutcomePending:
			continue
		}
		if _, err := s.MarkFailed(ctx, row.ID, "bill not paid before expiry"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("transaction %s: %w", row.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func (s *service) ListAwaitingConfirmation(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := s.repo.ListPending(ctx, pendingFilter{WithBill: true, SkipReview: true, ByLastCheck: true, Limit: limit})
	if err != nil {
		return nil, dependency(err, "list transactions awaiting confirmation")
	}
	return rows, nil
}

func (s *service) casStatus(ctx context.Context, repo Repository, txn *models.Transaction, updates map[string]any) error {
	ok, err := repo.UpdateStatusIf(ctx, txn.ID, txn.Status, updates)
	if err != nil {
		return dependency(err, "update transaction status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "transaction status changed concurrently")
	}
	return nil
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, txn *models.Transaction, status enums.TransactionStatus, reason string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data: payloads.PaymentStatusEvent{
			TransactionID: txn.ID,
			OrderID:       txn.OrderID,
			Status:        status,
			AmountCents:   txn.AmountCents,
			Reason:        reason,
		},
	})
}

func newReference(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("TX-%s-%s", now.UTC().Format("20060102"), suffix)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	if out == "" {
		return nil
	}
	return &out
}

func createError(err error) error {
	if dbpkg.IsUniqueViolation(err, "ux_transactions_reference") || dbpkg.IsUniqueViolation(err, "transactions.reference") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction reference already used")
	}
	return dependency(err, "create transaction")
}

func dependency(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
