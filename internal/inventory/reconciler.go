package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

// Reconciler moves stock for every line of an order.
type Reconciler interface {
	ApplyOrderStockChange(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, direction enums.StockDirection) error
}

type reconciler struct {
	store  Store
	logger *logger.Logger
}

// NewReconciler wraps store with order-level stock application.
func NewReconciler(store Store, logg *logger.Logger) (Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &reconciler{store: store, logger: logg}, nil
}

// ApplyOrderStockChange must run inside the caller's transaction: a failure on
// any line is returned as-is and the caller rolls back the lines already applied.
func (r *reconciler) ApplyOrderStockChange(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, direction enums.StockDirection) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock change")
	}
	if !direction.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid stock direction %q", direction)
	}

	var lines []models.OrderLine
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&lines).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}

	for _, line := range lines {
		if line.ProductID == nil || line.Quantity <= 0 {
			continue
		}
		delta := direction.Sign() * line.Quantity
		var err error
		if len(line.SelectedVariant) > 0 {
			err = r.store.AdjustVariant(ctx, tx, *line.ProductID, delta, line.SelectedVariant)
		} else {
			err = r.store.Adjust(ctx, tx, *line.ProductID, delta)
		}
		if err != nil {
			return err
		}
	}

	r.logger.Debug(r.logger.WithOrderID(ctx, orderID.String()), fmt.Sprintf("stock %s applied to %d lines", direction, len(lines)))
	return nil
}
