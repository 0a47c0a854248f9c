package orders

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/internal/cart"
	"github.com/angelmondragon/marketpay-backend/internal/inventory"
	dbpkg "github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
)

const (
	numberPrefix      = "COM"
	maxNumberAttempts = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

type cartSource interface {
	GetValidatedCart(ctx context.Context, sessionID string) (*cart.ValidatedCart, error)
	RemoveTx(ctx context.Context, tx *gorm.DB, sessionID string, entryIDs []uuid.UUID) error
}

// Service owns order creation, totals and the status machine.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	CreateFromCart(ctx context.Context, input CheckoutInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, params ListParams) (*ListResult, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target enums.OrderStatus) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, target enums.OrderStatus) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status enums.OrderPaymentStatus, method *enums.PaymentMethod) (*models.Order, error)
	RecomputeTotals(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	SetPaymentTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, update PaymentUpdate) error
}

// ServiceParams bundles the dependencies of the orders service.
type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Stock      inventory.Store
	Reconciler inventory.Reconciler
	// Cart is optional; CreateFromCart fails without it.
	Cart   cartSource
	Strict bool
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	stock      inventory.Store
	reconciler inventory.Reconciler
	cart       cartSource
	strict     bool
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the orders service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("stock reconciler required")
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
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		stock:      params.Stock,
		reconciler: params.Reconciler,
		cart:       params.Cart,
		strict:     params.Strict,
		logg:       logg,
		now:        now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	lines, err := s.priceLines(ctx, input.ShopID, input.Lines, true)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, input, lines, nil)
}

func (s *service) CreateFromCart(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if s.cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart service not configured")
	}
	validated, err := s.cart.GetValidatedCart(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if len(validated.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty").
			WithDetails(map[string]any{"removed_items": validated.RemovedItems})
	}

	shops := validated.ShopIDs()
	shopID := shops[0]
	if input.ShopID != nil {
		shopID = *input.ShopID
	} else if len(shops) > 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart spans several shops; shop_id is required").
			WithDetails(map[string]any{"shop_ids": shops})
	}

	var (
		lineInputs []LineInput
		entryIDs   []uuid.UUID
	)
	for _, item := range validated.Items {
		if item.ShopID != shopID {
			continue
		}
		price := item.UnitPriceCents
		lineInputs = append(lineInputs, LineInput{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPriceCents:  &price,
			SelectedVariant: item.SelectedVariant,
		})
		entryIDs = append(entryIDs, item.EntryID)
	}
	if len(lineInputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has no items for shop").
			WithDetails(map[string]any{"shop_id": shopID.String()})
	}

	session := validated.SessionID
	create := CreateInput{
		ShopID:      shopID,
		Customer:    input.Customer,
		Lines:       lineInputs,
		Adjustments: input.Adjustments,
		SessionID:   &session,
	}
	if err := validateCreate(create); err != nil {
		return nil, err
	}
	lines, err := s.priceLines(ctx, shopID, lineInputs, false)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, create, lines, func(tx *gorm.DB) error {
		return s.cart.RemoveTx(ctx, tx, session, entryIDs)
	})
}

// priceLines captures product name and price and checks availability
// without touching stock. With knownVariants a selection that matches none
// of a product's variants is rejected; cart checkout tolerates selections
// whose variant was removed after the item was added.
func (s *service) priceLines(ctx context.Context, shopID uuid.UUID, inputs []LineInput, knownVariants bool) ([]models.OrderLine, error) {
	lines := make([]models.OrderLine, 0, len(inputs))
	for i, in := range inputs {
		level, err := s.stock.Get(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}
		details := map[string]any{"line": i, "product_id": in.ProductID.String()}
		if level.ShopID != shopID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product belongs to another shop").WithDetails(details)
		}
		if !level.Sellable {
			details["status"] = level.Status
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").WithDetails(details)
		}
		if in.UnitPriceCents != nil && *in.UnitPriceCents != level.PriceCents {
			details["unit_price_cents"] = *in.UnitPriceCents
			details["current_price_cents"] = level.PriceCents
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price does not match current product price").WithDetails(details)
		}
		if knownVariants && !level.KnowsSelection(in.SelectedVariant) {
			details["selected_variant"] = in.SelectedVariant
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "selected variant does not exist").WithDetails(details)
		}
		if available := level.Available(in.SelectedVariant); available < in.Quantity {
			details["requested"] = in.Quantity
			details["available"] = available
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(details)
		}

		productID := in.ProductID
		lines = append(lines, models.OrderLine{
			ProductID:       &productID,
			ProductName:     level.Name,
			UnitPriceCents:  level.PriceCents,
			Quantity:        in.Quantity,
			LineTotalCents:  lineTotal(level.PriceCents, in.Quantity),
			SelectedVariant: in.SelectedVariant,
		})
	}
	return lines, nil
}

func (s *service) persist(ctx context.Context, input CreateInput, lines []models.OrderLine, after func(tx *gorm.DB) error) (*models.Order, error) {
	number := s.allocateNumber(ctx)

	var order *models.Order
	for attempt := 1; ; attempt++ {
		order = buildOrder(input, lines, number)
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			if after != nil {
				if err := after(tx); err != nil {
					return err
				}
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderCreatedEvent{
					OrderID:     order.ID,
					OrderNumber: order.OrderNumber,
					ShopID:      order.ShopID,
					TotalCents:  order.TotalCents,
					LineCount:   len(order.Lines),
				},
			})
		})
		if err == nil {
			break
		}
		if isNumberCollision(err) && attempt < maxNumberAttempts {
			s.logg.Warn(s.logg.WithField(ctx, "order_number", number), "order number collision, retrying")
			number = randomNumber(s.now())
			continue
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order created")
	return s.repo.FindByID(ctx, order.ID)
}

func buildOrder(input CreateInput, lines []models.OrderLine, number string) *models.Order {
	copied := make([]models.OrderLine, len(lines))
	copy(copied, lines)
	totals := Calculate(copied, input.Adjustments)
	return &models.Order{
		OrderNumber:      number,
		ShopID:           input.ShopID,
		SessionID:        input.SessionID,
		CustomerName:     strings.TrimSpace(input.Customer.Name),
		CustomerPhone:    strings.TrimSpace(input.Customer.Phone),
		CustomerEmail:    input.Customer.Email,
		DeliveryAddress:  input.Customer.DeliveryAddress,
		DeliveryCity:     input.Customer.DeliveryCity,
		Notes:            input.Customer.Notes,
		SubtotalCents:    totals.SubtotalCents,
		ShippingFeeCents: totals.ShippingFeeCents,
		TaxCents:         totals.TaxCents,
		DiscountCents:    totals.DiscountCents,
		TotalCents:       totals.TotalCents,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.OrderPaymentStatusUnpaid,
		Lines:            copied,
	}
}

// allocateNumber returns COM-YYYY-MM followed by the month's zero-padded
// sequence. It runs outside the order transaction and falls back to a random
// suffix when the counter cannot be read.
func (s *service) allocateNumber(ctx context.Context) string {
	now := s.now().UTC()
	prefix := numberPrefixFor(now)
	seq, err := s.repo.NextSequence(ctx, prefix)
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "prefix", prefix), "order sequence failed, using random suffix", err)
		return randomNumber(now)
	}
	return fmt.Sprintf("%s%04d", prefix, seq)
}

// isNumberCollision matches the postgres index name and the sqlite column form.
func isNumberCollision(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_orders_order_number") ||
		dbpkg.IsUniqueViolation(err, "orders.order_number")
}

func numberPrefixFor(t time.Time) string {
	return fmt.Sprintf("%s-%04d-%02d", numberPrefix, t.Year(), int(t.Month()))
}

func randomNumber(t time.Time) string {
	return fmt.Sprintf("%s%04d", numberPrefixFor(t.UTC()), rand.IntN(10000))
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	return s.repo.FindByNumber(ctx, number)
}

func (s *service) ListByShop(ctx context.Context, shopID uuid.UUID, params ListParams) (*ListResult, error) {
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", *params.Status)
	}
	rows, next, err := s.repo.ListByShop(ctx, shopID, listParams{
		Limit:  params.Limit,
		Cursor: cursor,
		Status: params.Status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	result := &ListResult{Orders: rows}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, target enums.OrderStatus) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.UpdateStatusTx(ctx, tx, id, target)
		updated = order
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatusTx runs the status machine inside tx. Stock moves with the
// status or not at all.
func (s *service) UpdateStatusTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, target enums.OrderStatus) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	ctx = s.logg.WithOrderID(ctx, id.String())
	repo := s.repo.WithTx(tx)

	order, err := repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	effects, err := Transition(order.Status, target, s.strict)
	if err != nil {
		return nil, err
	}
	if !effects.Changed {
		return order, nil
	}

	now := s.now().UTC()
	ok, err := repo.UpdateStatusIf(ctx, id, effects.From, effects.Updates(now))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order status changed concurrently").
			WithDetails(map[string]any{"expected": effects.From, "target": effects.To})
	}

	if effects.Stock != "" {
		if err := s.reconciler.ApplyOrderStockChange(ctx, tx, id, effects.Stock); err != nil {
			return nil, err
		}
	}

	events := []outbox.DomainEvent{{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   id,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     id,
			OrderNumber: order.OrderNumber,
			ShopID:      order.ShopID,
			From:        effects.From,
			To:          effects.To,
			Stock:       effects.Stock,
			ChangedAt:   now,
		},
	}}
	if effects.Stock == enums.StockDirectionIncrement {
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventStockRestored,
			AggregateType: enums.AggregateOrder,
			AggregateID:   id,
			Data: payloads.StockRestoredEvent{
				OrderID: id,
				ShopID:  order.ShopID,
				Reason:  effects.To,
			},
		})
	}
	if err := s.outbox.Emit(ctx, tx, events...); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from":  effects.From,
		"to":    effects.To,
		"stock": effects.Stock,
	}), "order status changed")
	return repo.FindByID(ctx, id)
}

func (s *service) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status enums.OrderPaymentStatus, method *enums.PaymentMethod) (*models.Order, error) {
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment status %q", status)
	}
	updates := map[string]any{"payment_status": status}
	if method != nil {
		if !method.IsValid() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", *method)
		}
		updates["payment_method"] = *method
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	return s.repo.FindByID(ctx, id)
}

// RecomputeTotals re-derives line totals, subtotal and total from the
// persisted lines and adjustments. Running it twice changes nothing.
func (s *service) RecomputeTotals(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindForUpdate(ctx, id)
		if err != nil {
			return err
		}
		for i := range order.Lines {
			line := &order.Lines[i]
			want := lineTotal(line.UnitPriceCents, line.Quantity)
			if line.LineTotalCents == want {
				continue
			}
			if err := repo.UpdateLineTotal(ctx, line.ID, want); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line total")
			}
			line.LineTotalCents = want
		}

		totals := Calculate(order.Lines, adjustmentsOf(order))
		if err := repo.Update(ctx, id, map[string]any{
			"subtotal_cents": totals.SubtotalCents,
			"discount_cents": totals.DiscountCents,
			"total_cents":    totals.TotalCents,
		}); err != nil {
			return err
		}
		out, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LockTx loads the order with its lines and holds its row lock for tx.
func (s *service) LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	return s.repo.WithTx(tx).FindForUpdate(ctx, id)
}

// SetPaymentTx writes the recomputed paid amount and payment status.
func (s *service) SetPaymentTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, update PaymentUpdate) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	if update.AmountPaidCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount paid cannot be negative")
	}
	updates := map[string]any{"amount_paid_cents": update.AmountPaidCents}
	if update.Status != "" {
		if !update.Status.IsValid() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment status %q", update.Status)
		}
		updates["payment_status"] = update.Status
	}
	if update.Method != nil {
		updates["payment_method"] = *update.Method
	}
	return s.repo.WithTx(tx).Update(ctx, id, updates)
}

func validateCreate(input CreateInput) error {
	details := map[string]any{}
	if input.ShopID == uuid.Nil {
		details["shop_id"] = "required"
	}
	if strings.TrimSpace(input.Customer.Name) == "" {
		details["customer_name"] = "required"
	}
	if strings.TrimSpace(input.Customer.Phone) == "" {
		details["customer_phone"] = "required"
	}
	if len(input.Lines) == 0 {
		details["lines"] = "at least one line is required"
	}
	for i, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			details[fmt.Sprintf("lines[%d].product_id", i)] = "required"
		}
		if line.Quantity < 1 {
			details[fmt.Sprintf("lines[%d].quantity", i)] = "must be at least 1"
		}
		if line.UnitPriceCents != nil && *line.UnitPriceCents < 0 {
			details[fmt.Sprintf("lines[%d].unit_price_cents", i)] = "cannot be negative"
		}
	}
	adj := input.Adjustments
	if adj.ShippingFeeCents < 0 {
		details["shipping_fee_cents"] = "cannot be negative"
	}
	if adj.TaxCents < 0 {
		details["tax_cents"] = "cannot be negative"
	}
	if adj.DiscountCents < 0 {
		details["discount_cents"] = "cannot be negative"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order").WithDetails(details)
	}
	return nil
}
