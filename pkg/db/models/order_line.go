package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

// OrderLine is one product, quantity and captured price within an order.
type OrderLine struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID       *uuid.UUID             `gorm:"column:product_id;type:uuid"`
	ProductName     string                 `gorm:"column:product_name;not null"`
	UnitPriceCents  int64                  `gorm:"column:unit_price_cents;not null"`
	Quantity        int                    `gorm:"column:quantity;not null"`
	LineTotalCents  int64                  `gorm:"column:line_total_cents;not null"`
	SelectedVariant types.VariantSelection `gorm:"column:selected_variant"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLine) TableName() string { return "order_lines" }

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}
