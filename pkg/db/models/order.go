package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// Order is a customer's placed purchase with a single shop.
type Order struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber      string                   `gorm:"column:order_number;not null;uniqueIndex"`
	ShopID           uuid.UUID                `gorm:"column:shop_id;type:uuid;not null;index"`
	SessionID        *string                  `gorm:"column:session_id"`
	CustomerName     string                   `gorm:"column:customer_name;not null"`
	CustomerPhone    string                   `gorm:"column:customer_phone;not null"`
	CustomerEmail    *string                  `gorm:"column:customer_email"`
	DeliveryAddress  *string                  `gorm:"column:delivery_address"`
	DeliveryCity     *string                  `gorm:"column:delivery_city"`
	Notes            *string                  `gorm:"column:notes"`
	SubtotalCents    int64                    `gorm:"column:subtotal_cents;not null;default:0"`
	ShippingFeeCents int64                    `gorm:"column:shipping_fee_cents;not null;default:0"`
	TaxCents         int64                    `gorm:"column:tax_cents;not null;default:0"`
	DiscountCents    int64                    `gorm:"column:discount_cents;not null;default:0"`
	TotalCents       int64                    `gorm:"column:total_cents;not null;default:0"`
	AmountPaidCents  int64                    `gorm:"column:amount_paid_cents;not null;default:0"`
	Status           enums.OrderStatus        `gorm:"column:status;not null;default:'pending'"`
	PaymentStatus    enums.OrderPaymentStatus `gorm:"column:payment_status;not null;default:'unpaid'"`
	PaymentMethod    *enums.PaymentMethod     `gorm:"column:payment_method"`
	ConfirmedAt      *time.Time               `gorm:"column:confirmed_at"`
	ShippedAt        *time.Time               `gorm:"column:shipped_at"`
	DeliveredAt      *time.Time               `gorm:"column:delivered_at"`
	CancelledAt      *time.Time               `gorm:"column:cancelled_at"`
	RefundedAt       *time.Time               `gorm:"column:refunded_at"`
	Lines            []OrderLine              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// LineTotalCents sums the persisted line totals.
func (o Order) LineTotalCents() int64 {
	var sum int64
	for _, line := range o.Lines {
		sum += line.LineTotalCents
	}
	return sum
}
