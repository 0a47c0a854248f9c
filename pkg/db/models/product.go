package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

// Product is a shop listing with either a scalar stock counter or per-variant
// stock. Stock is the aggregate in both cases.
type Product struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ShopID     uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;index"`
	Name       string              `gorm:"column:name;not null"`
	PriceCents int64               `gorm:"column:price_cents;not null"`
	Status     enums.ProductStatus `gorm:"column:status;not null;default:'active'"`
	Stock      int                 `gorm:"column:stock;not null;default:0"`
	InStock    bool                `gorm:"column:in_stock;not null;default:false"`
	Variants   types.VariantStock  `gorm:"column:variant_stock"`
	Version    int64               `gorm:"column:version;not null;default:1"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt  gorm.DeletedAt      `gorm:"column:deleted_at;index"`
}

func (Product) TableName() string { return "products" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Variants.HasEntries() {
		p.Stock = p.Variants.Total()
	}
	p.InStock = p.Stock > 0
	return nil
}

// IsSellable reports whether the listing can be carted or ordered.
func (p Product) IsSellable() bool {
	return p.Status.IsSellable() && !p.DeletedAt.Valid
}
