package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once an order and all its lines are persisted.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	ShopID      uuid.UUID `json:"shop_id"`
	TotalCents  int64     `json:"total_cents"`
	LineCount   int       `json:"line_count"`
}

// OrderStatusChangedEvent records one accepted status transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID            `json:"order_id"`
	OrderNumber string               `json:"order_number"`
	ShopID      uuid.UUID            `json:"shop_id"`
	From        enums.OrderStatus    `json:"from"`
	To          enums.OrderStatus    `json:"to"`
	Stock       enums.StockDirection `json:"stock,omitempty"`
	ChangedAt   time.Time            `json:"changed_at"`
}

// StockRestoredEvent follows a cancellation or refund that put stock back.
type StockRestoredEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	ShopID  uuid.UUID         `json:"shop_id"`
	Reason  enums.OrderStatus `json:"reason"`
}

// PaymentSettledEvent is emitted when a transaction becomes paid.
type PaymentSettledEvent struct {
	TransactionID     uuid.UUID            `json:"transaction_id"`
	OrderID           *uuid.UUID           `json:"order_id,omitempty"`
	Reference         string               `json:"reference"`
	OperatorReference string               `json:"operator_reference,omitempty"`
	AmountCents       int64                `json:"amount_cents"`
	AmountPaidCents   int64                `json:"amount_paid_cents"`
	PaymentMethod     enums.PaymentMethod  `json:"payment_method"`
	PaymentPurpose    enums.PaymentPurpose `json:"payment_purpose"`
	ConfirmedAt       time.Time            `json:"confirmed_at"`
}

// PaymentStatusEvent covers failed and refunded transactions.
type PaymentStatusEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	OrderID       *uuid.UUID              `json:"order_id,omitempty"`
	Status        enums.TransactionStatus `json:"status"`
	AmountCents   int64                   `json:"amount_cents"`
	Reason        string                  `json:"reason,omitempty"`
}

// Review reasons.
const (
	ReviewAmountMismatch    = "amount_mismatch"
	ReviewInsufficientStock = "insufficient_stock"
)

// PaymentReviewRequiredEvent flags a paid bill that needs a human: either
// the amount did not match or the order could not be confirmed.
type PaymentReviewRequiredEvent struct {
	TransactionID  uuid.UUID            `json:"transaction_id"`
	OrderID        *uuid.UUID           `json:"order_id,omitempty"`
	BillID         string               `json:"bill_id"`
	PaymentPurpose enums.PaymentPurpose `json:"payment_purpose"`
	Reason         string               `json:"reason"`
	ExpectedCents  int64                `json:"expected_cents"`
	ActualCents    int64                `json:"actual_cents"`
}
