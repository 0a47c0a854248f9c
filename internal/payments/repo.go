package payments

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

// NewRepository binds a transaction repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id), pkgerrors.CodeNotFound)
}

func (r *repository) FindByOperatorReference(ctx context.Context, billID string) (*models.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("operator_reference = ?", billID), pkgerrors.CodeTransactionNotFound)
}

// FindForUpdate locks the transaction row for the surrounding transaction.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.first(dbpkg.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id), pkgerrors.CodeNotFound)
}

func (r *repository) first(query *gorm.DB, missing pkgerrors.Code) (*models.Transaction, error) {
	var txn models.Transaction
	err := query.First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(missing, "transaction not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, params listParams) ([]models.Transaction, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{})
	if params.OrderID != nil {
		query = query.Where("order_id = ?", *params.OrderID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var rows []models.Transaction
	if err := pagination.Keyset(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return rows, next, nil
}

// UpdateStatusIf applies updates only while the row is still in from.
func (r *repository) UpdateStatusIf(ctx context.Context, id uuid.UUID, from enums.TransactionStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return nil
}

// SumByStatus returns the amount sum and row count of the order's
// transactions in status.
func (r *repository) SumByStatus(ctx context.Context, orderID uuid.UUID, status enums.TransactionStatus) (int64, int64, error) {
	var out struct {
		Total int64
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount_cents), 0) AS total, COUNT(*) AS count").
		Where("order_id = ? AND status = ?", orderID, status).
		Scan(&out).Error
	return out.Total, out.Count, err
}

func (r *repository) ListPending(ctx context.Context, filter pendingFilter) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).Where("status = ?", enums.TransactionStatusPending)
	if filter.WithBill {
		query = query.Where("operator_reference IS NOT NULL")
	} else {
		query = query.Where("operator_reference IS NULL")
	}
	if filter.SkipReview {
		query = query.Where("needs_review = ?", false)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.ByLastCheck {
		query = query.Order("last_checked_at IS NOT NULL").Order("last_checked_at ASC")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	var rows []models.Transaction
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}
