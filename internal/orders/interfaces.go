package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
)

// Repository defines persistence operations for orders, lines and numbering.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, params listParams) ([]models.Order, *pagination.Cursor, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateLineTotal(ctx context.Context, lineID uuid.UUID, totalCents int64) error
	NextSequence(ctx context.Context, prefix string) (int, error)
}

type listParams struct {
	Limit  int
	Cursor *pagination.Cursor
	Status *enums.OrderStatus
}
