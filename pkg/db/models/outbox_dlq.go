package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// OutboxDLQ is an outbox row the publisher gave up on, kept for inspection
// until the DLQ retention window passes.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID                  `gorm:"type:uuid;not null;uniqueIndex:ux_outbox_dlq_event_id"`
	EventType     enums.OutboxEventType      `gorm:"not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"not null"`
	AggregateID   uuid.UUID                  `gorm:"type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:json;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"not null"`
	ErrorMessage  *string
	AttemptCount  int       `gorm:"not null;default:0"`
	FailedAt      time.Time `gorm:"index:idx_outbox_dlq_failed_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }

func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	if d.FailedAt.IsZero() {
		d.FailedAt = time.Now().UTC()
	}
	return nil
}
