package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

type repository struct {
	db *gorm.DB
}

// NewRepository binds a cart repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListBySession(ctx context.Context, sessionID string) ([]models.CartEntry, error) {
	var entries []models.CartEntry
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repository) FindByID(ctx context.Context, sessionID string, id uuid.UUID) (*models.CartEntry, error) {
	var entry models.CartEntry
	err := r.db.WithContext(ctx).Where("id = ? AND session_id = ?", id, sessionID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListForProduct(ctx context.Context, sessionID string, productID uuid.UUID) ([]models.CartEntry, error) {
	var entries []models.CartEntry
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND product_id = ?", sessionID, productID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repository) Create(ctx context.Context, entry *models.CartEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) UpdateQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).Model(&models.CartEntry{}).
		Where("id = ?", id).
		Update("quantity", quantity).Error
}

func (r *repository) Delete(ctx context.Context, sessionID string, ids ...uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND id IN ?", sessionID, ids).
		Delete(&models.CartEntry{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.CartEntry{})
	return res.RowsAffected, res.Error
}
