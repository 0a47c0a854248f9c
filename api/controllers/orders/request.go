package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/api/validators"
	internalorders "github.com/angelmondragon/marketpay-backend/internal/orders"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

// CustomerRequest is shared by direct order creation and cart checkout.
type CustomerRequest struct {
	Name            string  `json:"name" validate:"required,max=120"`
	Phone           string  `json:"phone" validate:"required,max=32"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email"`
	DeliveryAddress *string `json:"delivery_address,omitempty" validate:"omitempty,max=255"`
	DeliveryCity    *string `json:"delivery_city,omitempty" validate:"omitempty,max=120"`
	Notes           *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// AdjustmentsRequest carries the order-level money fields.
type AdjustmentsRequest struct {
	ShippingFeeCents int64 `json:"shipping_fee_cents" validate:"gte=0"`
	TaxCents         int64 `json:"tax_cents" validate:"gte=0"`
	DiscountCents    int64 `json:"discount_cents" validate:"gte=0"`
}

type LineRequest struct {
	ProductID       string                 `json:"product_id" validate:"required,uuid"`
	Quantity        int                    `json:"quantity" validate:"gte=1"`
	UnitPriceCents  *int64                 `json:"unit_price_cents,omitempty" validate:"omitempty,gte=0"`
	SelectedVariant types.VariantSelection `json:"selected_variant,omitempty"`
}

type CreateOrderRequest struct {
	ShopID   string          `json:"shop_id" validate:"required,uuid"`
	Customer CustomerRequest `json:"customer"`
	Lines    []LineRequest   `json:"lines" validate:"required,min=1,dive"`
	AdjustmentsRequest
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string  `json:"payment_status" validate:"required,oneof=unpaid pending partially_paid paid refunded"`
	PaymentMethod *string `json:"payment_method,omitempty" validate:"omitempty,payment_method"`
}

func (c CustomerRequest) toInput() internalorders.Customer {
	return internalorders.Customer{
		Name:            validators.SanitizeString(c.Name, 120),
		Phone:           validators.SanitizeString(c.Phone, 32),
		Email:           validators.SanitizeOptional(c.Email, 255),
		DeliveryAddress: validators.SanitizeOptional(c.DeliveryAddress, 255),
		DeliveryCity:    validators.SanitizeOptional(c.DeliveryCity, 120),
		Notes:           validators.SanitizeOptional(c.Notes, 1000),
	}
}

func (a AdjustmentsRequest) toInput() internalorders.Adjustments {
	return internalorders.Adjustments{
		ShippingFeeCents: a.ShippingFeeCents,
		TaxCents:         a.TaxCents,
		DiscountCents:    a.DiscountCents,
	}
}

// toInput assumes the request passed validation, so ids parse.
func (r CreateOrderRequest) toInput(sessionID string) internalorders.CreateInput {
	lines := make([]internalorders.LineInput, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, internalorders.LineInput{
			ProductID:       uuid.MustParse(line.ProductID),
			Quantity:        line.Quantity,
			UnitPriceCents:  line.UnitPriceCents,
			SelectedVariant: line.SelectedVariant,
		})
	}
	input := internalorders.CreateInput{
		ShopID:      uuid.MustParse(r.ShopID),
		Customer:    r.Customer.toInput(),
		Lines:       lines,
		Adjustments: r.AdjustmentsRequest.toInput(),
	}
	if sessionID != "" {
		input.SessionID = &sessionID
	}
	return input
}

func (r UpdatePaymentStatusRequest) method() *enums.PaymentMethod {
	if r.PaymentMethod == nil {
		return nil
	}
	method := enums.PaymentMethod(*r.PaymentMethod)
	return &method
}

// CheckoutRequest turns the session cart into an order. ShopID picks one
// shop when the cart spans several.
type CheckoutRequest struct {
	ShopID   *string         `json:"shop_id,omitempty" validate:"omitempty,uuid"`
	Customer CustomerRequest `json:"customer"`
	AdjustmentsRequest
}

func (r CheckoutRequest) toInput(sessionID string) internalorders.CheckoutInput {
	input := internalorders.CheckoutInput{
		SessionID:   sessionID,
		Customer:    r.Customer.toInput(),
		Adjustments: r.AdjustmentsRequest.toInput(),
	}
	if r.ShopID != nil {
		id := uuid.MustParse(*r.ShopID)
		input.ShopID = &id
	}
	return input
}
