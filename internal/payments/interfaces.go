package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
)

// Repository persists transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByOperatorReference(ctx context.Context, billID string) (*models.Transaction, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, params listParams) ([]models.Transaction, *pagination.Cursor, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from enums.TransactionStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SumByStatus(ctx context.Context, orderID uuid.UUID, status enums.TransactionStatus) (int64, int64, error)
	ListPending(ctx context.Context, filter pendingFilter) ([]models.Transaction, error)
}

type listParams struct {
	Limit   int
	Cursor  *pagination.Cursor
	OrderID *uuid.UUID
	Status  *enums.TransactionStatus
}

// pendingFilter selects pending transactions. WithBill picks rows with an
// operator reference, otherwise rows without one. ByLastCheck puts rows never
// polled first, then the least recently polled.
type pendingFilter struct {
	WithBill      bool
	SkipReview    bool
	ByLastCheck   bool
	CreatedBefore *time.Time
	Limit         int
}
