package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

const maxVariantAttempts = 5

// Store applies stock deltas to products. A positive delta removes stock,
// a negative delta puts it back.
type Store interface {
	Adjust(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta int) error
	AdjustVariant(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta int, selection types.VariantSelection) error
	Get(ctx context.Context, productID uuid.UUID) (*StockLevel, error)
}

// StockLevel is a read snapshot of a product's availability.
type StockLevel struct {
	ProductID  uuid.UUID
	ShopID     uuid.UUID
	Name       string
	PriceCents int64
	Status     enums.ProductStatus
	Sellable   bool
	Aggregate  int
	InStock    bool
	Variants   types.VariantStock
}

// Available returns the quantity that can be sold for selection: the matching
// variant's quantity when one resolves, the aggregate otherwise.
func (l StockLevel) Available(selection types.VariantSelection) int {
	if len(selection) > 0 && l.Variants.HasEntries() {
		if idx, ok := l.Variants.Resolve(selection); ok {
			return l.Variants.Quantity(idx)
		}
	}
	return l.Aggregate
}

// KnowsSelection reports whether selection names one of the product's
// variants. Products without variants and empty selections accept anything.
func (l StockLevel) KnowsSelection(selection types.VariantSelection) bool {
	if len(selection) == 0 || !l.Variants.HasEntries() {
		return true
	}
	_, ok := l.Variants.Resolve(selection)
	return ok
}

type store struct {
	db      *gorm.DB
	metrics *metrics.Reconciliation
}

// NewStore builds a Store over the products table.
func NewStore(db *gorm.DB, m *metrics.Reconciliation) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &store{db: db, metrics: m}, nil
}

func (s *store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *store) Adjust(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}
	conn := s.conn(ctx, tx)
	res := conn.Exec(`
		UPDATE products
		SET stock = stock - ?,
			in_stock = (stock - ? > 0),
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock - ? >= 0
	`, delta, delta, productID, delta)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "adjust product stock")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	product, err := s.load(conn, productID)
	if err != nil {
		return err
	}
	s.metrics.IncInsufficientStock("product")
	return insufficient(product, delta, product.Stock, "")
}

func (s *store) AdjustVariant(ctx context.Context, tx *gorm.DB, productID uuid.UUID, delta int, selection types.VariantSelection) error {
	if delta == 0 {
		return nil
	}
	if len(selection) == 0 {
		return s.Adjust(ctx, tx, productID, delta)
	}
	conn := s.conn(ctx, tx)

	for attempt := 0; attempt < maxVariantAttempts; attempt++ {
		product, err := s.load(conn, productID)
		if err != nil {
			return err
		}
		if !product.Variants.HasEntries() {
			return s.Adjust(ctx, tx, productID, delta)
		}
		idx, ok := product.Variants.Resolve(selection)
		if !ok {
			return s.Adjust(ctx, tx, productID, delta)
		}

		updated, err := product.Variants.Decrement(idx, delta)
		if errors.Is(err, types.ErrVariantQuantity) {
			s.metrics.IncInsufficientStock("variant")
			return insufficient(product, delta, product.Variants.Quantity(idx), product.Variants.Entries[idx].Key)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "adjust variant stock")
		}

		total := updated.Total()
		res := conn.Unscoped().Model(&models.Product{}).
			Where("id = ? AND version = ?", product.ID, product.Version).
			Updates(map[string]any{
				"variant_stock": updated,
				"stock":         total,
				"in_stock":      total > 0,
				"version":       product.Version + 1,
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "write variant stock")
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return pkgerrors.Newf(pkgerrors.CodeConflict, "product %s changed concurrently", productID)
}

func (s *store) Get(ctx context.Context, productID uuid.UUID) (*StockLevel, error) {
	product, err := s.load(s.db.WithContext(ctx), productID)
	if err != nil {
		return nil, err
	}
	return &StockLevel{
		ProductID:  product.ID,
		ShopID:     product.ShopID,
		Name:       product.Name,
		PriceCents: product.PriceCents,
		Status:     product.Status,
		Sellable:   product.IsSellable(),
		Aggregate:  product.Stock,
		InStock:    product.InStock,
		Variants:   product.Variants,
	}, nil
}

// load reads the product including soft-deleted rows; stock still moves for
// lines that reference a product removed after the order was placed.
func (s *store) load(conn *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := conn.Unscoped().Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "product %s not found", productID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

func insufficient(product *models.Product, delta, available int, variant string) error {
	details := map[string]any{
		"product_id": product.ID,
		"requested":  delta,
		"available":  available,
	}
	if variant != "" {
		details["variant"] = variant
	}
	return pkgerrors.Newf(pkgerrors.CodeInsufficientStock, "insufficient stock for %s", product.Name).
		WithDetails(details)
}
