package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// maxParkedErrorLen bounds the error text copied into outbox_dlq.
const maxParkedErrorLen = 1024

// Repository owns outbox_events and the outbox_dlq table rows are parked in.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) events(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{})
}

// Insert must run inside the transaction that changes the aggregate.
func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

func (r *Repository) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	var found []uuid.UUID
	err := tx.Model(&models.OutboxEvent{}).
		Where(&models.OutboxEvent{EventType: eventType, AggregateType: aggregateType, AggregateID: aggregateID}).
		Limit(1).
		Pluck("id", &found).Error
	return len(found) > 0, err
}

// FetchUnpublished returns the oldest pending rows. maxAttempts <= 0 means
// no attempt ceiling.
func (r *Repository) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	q := r.db.WithContext(ctx).Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	return rows, q.Order("created_at, id").Limit(limit).Find(&rows).Error
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return r.events(ctx).Where("id = ?", id).Update("published_at", time.Now().UTC()).Error
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.events(ctx).Where("id = ?", id).Updates(map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    clip(cause.Error()),
	}).Error
}

// Park moves event into outbox_dlq atomically so it is never fetched again.
func (r *Repository) Park(ctx context.Context, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
	}
	if cause != nil {
		msg := clip(cause.Error())
		entry.ErrorMessage = &msg
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Delete(&models.OutboxEvent{}, "id = ?", event.ID).Error
	})
}

// Parked looks up the DLQ entry for an event id; nil when it was never parked.
func (r *Repository) Parked(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeletePublishedBefore removes up to limit published rows older than cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ids := r.events(ctx).Select("id").
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Order("published_at").
		Limit(limit)
	return deleteIn(r.db.WithContext(ctx), &models.OutboxEvent{}, ids)
}

// DeleteParkedBefore removes up to limit DLQ entries that failed before cutoff.
func (r *Repository) DeleteParkedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ids := r.db.WithContext(ctx).Model(&models.OutboxDLQ{}).Select("id").
		Where("failed_at < ?", cutoff).
		Order("failed_at").
		Limit(limit)
	return deleteIn(r.db.WithContext(ctx), &models.OutboxDLQ{}, ids)
}

func deleteIn(db *gorm.DB, model any, ids *gorm.DB) (int64, error) {
	res := db.Where("id IN (?)", ids).Delete(model)
	return res.RowsAffected, res.Error
}

func clip(msg string) string {
	if len(msg) > maxParkedErrorLen {
		return msg[:maxParkedErrorLen]
	}
	return msg
}
