// Package outbox records domain events in the same database transaction as
// the state change they describe. cmd/outbox-publisher ships them later.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

var errTxRequired = errors.New("outbox writes need the caller's transaction")

// DomainEvent becomes one outbox row.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) check() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("unknown event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("unknown aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return fmt.Errorf("%s event without aggregate id", e.EventType)
	}
	return nil
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit seals and inserts events in tx, in order. Nothing is written unless
// every event is valid.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, events ...DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	now := s.now().UTC()
	rows := make([]models.OutboxEvent, 0, len(events))
	for _, ev := range events {
		if err := ev.check(); err != nil {
			return err
		}
		_, raw, err := SealEnvelope(ev, now)
		if err != nil {
			return err
		}
		rows = append(rows, models.OutboxEvent{
			EventType:     ev.EventType,
			AggregateType: ev.AggregateType,
			AggregateID:   ev.AggregateID,
			Payload:       raw,
		})
	}
	tx = tx.WithContext(ctx)
	for _, row := range rows {
		if err := s.repo.Insert(tx, row); err != nil {
			return fmt.Errorf("queue %s: %w", row.EventType, err)
		}
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID,
		}), "outbox event queued")
	}
	return nil
}

// EmitOnce emits event unless a row with the same type and aggregate was
// already queued. A concurrent insert losing on the unique index counts as
// already queued.
func (s *Service) EmitOnce(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	exists, err := s.repo.ExistsTx(tx.WithContext(ctx), event.EventType, event.AggregateType, event.AggregateID)
	if err != nil || exists {
		return err
	}
	if err := s.Emit(ctx, tx, event); err != nil && !dbpkg.IsUniqueViolation(err, "") {
		return err
	}
	return nil
}
