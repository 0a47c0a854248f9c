package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

// Customer holds the contact and delivery fields copied onto an order.
type Customer struct {
	Name            string
	Phone           string
	Email           *string
	DeliveryAddress *string
	DeliveryCity    *string
	Notes           *string
}

// LineInput is one requested line. UnitPriceCents is optional; when set it
// must match the product's current price.
type LineInput struct {
	ProductID       uuid.UUID
	Quantity        int
	UnitPriceCents  *int64
	SelectedVariant types.VariantSelection
}

// CreateInput describes a new order for a single shop.
type CreateInput struct {
	ShopID      uuid.UUID
	Customer    Customer
	Lines       []LineInput
	Adjustments Adjustments
	// SessionID links the order to the cart it came from, if any.
	SessionID *string
}

// CheckoutInput converts a session cart into an order.
type CheckoutInput struct {
	SessionID string
	// ShopID selects which shop's items to order when the cart spans several.
	ShopID      *uuid.UUID
	Customer    Customer
	Adjustments Adjustments
}

// ListParams filters a shop's order listing.
type ListParams struct {
	Limit  int
	Cursor string
	Status *enums.OrderStatus
}

// ListResult is one page of orders.
type ListResult struct {
	Orders     []models.Order
	NextCursor string
}

// PaymentUpdate is what the payment path writes back onto an order.
type PaymentUpdate struct {
	AmountPaidCents int64
	Status          enums.OrderPaymentStatus
	Method          *enums.PaymentMethod
}
