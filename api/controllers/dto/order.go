// Package dto holds the JSON shapes shared by the order, payment and cart
// controllers.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

type OrderLine struct {
	ID              uuid.UUID              `json:"id"`
	ProductID       *uuid.UUID             `json:"product_id,omitempty"`
	ProductName     string                 `json:"product_name"`
	UnitPriceCents  int64                  `json:"unit_price_cents"`
	Quantity        int                    `json:"quantity"`
	LineTotalCents  int64                  `json:"line_total_cents"`
	SelectedVariant types.VariantSelection `json:"selected_variant,omitempty"`
}

type Order struct {
	ID               uuid.UUID                `json:"id"`
	OrderNumber      string                   `json:"order_number"`
	ShopID           uuid.UUID                `json:"shop_id"`
	CustomerName     string                   `json:"customer_name"`
	CustomerPhone    string                   `json:"customer_phone"`
	CustomerEmail    *string                  `json:"customer_email,omitempty"`
	DeliveryAddress  *string                  `json:"delivery_address,omitempty"`
	DeliveryCity     *string                  `json:"delivery_city,omitempty"`
	Notes            *string                  `json:"notes,omitempty"`
	SubtotalCents    int64                    `json:"subtotal_cents"`
	ShippingFeeCents int64                    `json:"shipping_fee_cents"`
	TaxCents         int64                    `json:"tax_cents"`
	DiscountCents    int64                    `json:"discount_cents"`
	TotalCents       int64                    `json:"total_cents"`
	AmountPaidCents  int64                    `json:"amount_paid_cents"`
	Status           enums.OrderStatus        `json:"status"`
	PaymentStatus    enums.OrderPaymentStatus `json:"payment_status"`
	PaymentMethod    *enums.PaymentMethod     `json:"payment_method,omitempty"`
	ConfirmedAt      *time.Time               `json:"confirmed_at,omitempty"`
	ShippedAt        *time.Time               `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time               `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time               `json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time               `json:"refunded_at,omitempty"`
	Lines            []OrderLine              `json:"lines"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// NewOrder maps a persisted order, lines included when loaded.
func NewOrder(order *models.Order) *Order {
	if order == nil {
		return nil
	}
	lines := make([]OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLine{
			ID:              line.ID,
			ProductID:       line.ProductID,
			ProductName:     line.ProductName,
			UnitPriceCents:  line.UnitPriceCents,
			Quantity:        line.Quantity,
			LineTotalCents:  line.LineTotalCents,
			SelectedVariant: line.SelectedVariant,
		})
	}
	return &Order{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		ShopID:           order.ShopID,
		CustomerName:     order.CustomerName,
		CustomerPhone:    order.CustomerPhone,
		CustomerEmail:    order.CustomerEmail,
		DeliveryAddress:  order.DeliveryAddress,
		DeliveryCity:     order.DeliveryCity,
		Notes:            order.Notes,
		SubtotalCents:    order.SubtotalCents,
		ShippingFeeCents: order.ShippingFeeCents,
		TaxCents:         order.TaxCents,
		DiscountCents:    order.DiscountCents,
		TotalCents:       order.TotalCents,
		AmountPaidCents:  order.AmountPaidCents,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		PaymentMethod:    order.PaymentMethod,
		ConfirmedAt:      order.ConfirmedAt,
		ShippedAt:        order.ShippedAt,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		RefundedAt:       order.RefundedAt,
		Lines:            lines,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

// NewOrders maps a page of orders.
func NewOrders(orders []models.Order) []*Order {
	out := make([]*Order, 0, len(orders))
	for i := range orders {
		out = append(out, NewOrder(&orders[i]))
	}
	return out
}
