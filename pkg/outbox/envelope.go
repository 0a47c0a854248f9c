package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// CurrentEnvelopeVersion is written by Emit; OpenEnvelope accepts versions
// up to it.
const CurrentEnvelopeVersion = 1

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version       int                       `json:"version"`
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type,omitempty"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type,omitempty"`
	AggregateID   string                    `json:"aggregate_id,omitempty"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Data          json.RawMessage           `json:"data"`
}

// SealEnvelope marshals event into its stored form.
func SealEnvelope(event DomainEvent, now time.Time) (PayloadEnvelope, []byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	version := event.Version
	if version == 0 {
		version = CurrentEnvelopeVersion
	}
	envelope := PayloadEnvelope{
		Version:       version,
		EventID:       uuid.NewString(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID.String(),
		OccurredAt:    occurred.UTC(),
		Data:          data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return envelope, raw, nil
}

// OpenEnvelope decodes a stored payload and rejects unknown versions and
// empty data.
func OpenEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > CurrentEnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, fmt.Errorf("envelope %s has no data", envelope.EventID)
	}
	return envelope, nil
}
