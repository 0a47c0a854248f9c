package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

// CartEntry is one product line in a session cart.
type CartEntry struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SessionID       string                 `gorm:"column:session_id;not null;index"`
	ShopID          uuid.UUID              `gorm:"column:shop_id;type:uuid;not null"`
	ProductID       uuid.UUID              `gorm:"column:product_id;type:uuid;not null"`
	Quantity        int                    `gorm:"column:quantity;not null"`
	SelectedVariant types.VariantSelection `gorm:"column:selected_variant"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartEntry) TableName() string { return "cart_entries" }

func (c *CartEntry) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
