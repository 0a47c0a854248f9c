package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the header and its lines.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx).Where("order_number = ?", number))
}

// FindForUpdate locks the order row until the surrounding transaction ends.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id))
}

func (r *repository) first(query *gorm.DB) (*models.Order, error) {
	var order models.Order
	err := query.
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

func (r *repository) ListByShop(ctx context.Context, shopID uuid.UUID, params listParams) ([]models.Order, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("shop_id = ?", shopID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var orders []models.Order
	if err := pagination.Keyset(query, params.Cursor, params.Limit).
		Preload("Lines").
		Find(&orders).Error; err != nil {
		return nil, nil, err
	}

	orders, next := pagination.Trim(orders, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return orders, next, nil
}

// UpdateStatusIf applies updates only while the order is still in from.
func (r *repository) UpdateStatusIf(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func (r *repository) UpdateLineTotal(ctx context.Context, lineID uuid.UUID, totalCents int64) error {
	return r.db.WithContext(ctx).Model(&models.OrderLine{}).
		Where("id = ?", lineID).
		Update("line_total_cents", totalCents).Error
}

// NextSequence atomically increments and returns the counter for prefix.
func (r *repository) NextSequence(ctx context.Context, prefix string) (int, error) {
	var value int
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO order_sequences (prefix, value, updated_at)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix) DO UPDATE
		SET value = order_sequences.value + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING value
	`, prefix).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, errors.New("order sequence returned no value")
	}
	return value, nil
}
