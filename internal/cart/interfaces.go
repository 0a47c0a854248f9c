package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
)

// Repository persists session cart entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListBySession(ctx context.Context, sessionID string) ([]models.CartEntry, error)
	FindByID(ctx context.Context, sessionID string, id uuid.UUID) (*models.CartEntry, error)
	ListForProduct(ctx context.Context, sessionID string, productID uuid.UUID) ([]models.CartEntry, error)
	Create(ctx context.Context, entry *models.CartEntry) error
	UpdateQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	Delete(ctx context.Context, sessionID string, ids ...uuid.UUID) (int64, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}
