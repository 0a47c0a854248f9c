package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// OutboxEvent is one queued domain event. Payload holds the sealed envelope;
// PublishedAt stays nil until the publisher has a Pub/Sub ack.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"not null;index:idx_outbox_events_aggregate,priority:1"`
	AggregateType enums.OutboxAggregateType `gorm:"not null;index:idx_outbox_events_aggregate,priority:2"`
	AggregateID   uuid.UUID                 `gorm:"type:uuid;not null;index:idx_outbox_events_aggregate,priority:3"`
	Payload       json.RawMessage           `gorm:"type:json;not null"`
	AttemptCount  int                       `gorm:"not null;default:0"`
	LastError     *string
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	PublishedAt   *time.Time
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
