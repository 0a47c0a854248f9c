// Package registry routes outbox rows to Pub/Sub topics and decodes their
// payloads into the typed event structs in pkg/outbox/payloads.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing entry for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage) (any, error)
}

// ResolvedEvent is a row that passed validation, ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that can never be published as-is; the
// dispatcher parks them in the DLQ instead of retrying.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// EventRegistry is immutable after NewEventRegistry.
type EventRegistry struct {
	routes map[enums.OutboxEventType]EventDescriptor
}

// route builds a descriptor whose payload decodes into a fresh *T.
func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// NewEventRegistry sends order lifecycle events to the orders topic and
// transaction events to the payments topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	if cfg.OrdersTopic == "" {
		missing = append(missing, errors.New("orders topic is required"))
	}
	if cfg.PaymentsTopic == "" {
		missing = append(missing, errors.New("payments topic is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	orders, pays := cfg.OrdersTopic, cfg.PaymentsTopic
	routes := []EventDescriptor{
		route[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder, orders),
		route[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, enums.AggregateOrder, orders),
		route[payloads.StockRestoredEvent](enums.EventStockRestored, enums.AggregateOrder, orders),
		route[payloads.PaymentSettledEvent](enums.EventPaymentSettled, enums.AggregateTransaction, pays),
		route[payloads.PaymentStatusEvent](enums.EventPaymentFailed, enums.AggregateTransaction, pays),
		route[payloads.PaymentStatusEvent](enums.EventPaymentRefunded, enums.AggregateTransaction, pays),
		route[payloads.PaymentReviewRequiredEvent](enums.EventPaymentReviewRequired, enums.AggregateTransaction, pays),
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	for _, d := range routes {
		reg.routes[d.EventType] = d
	}
	for _, et := range enums.OutboxEventTypes() {
		if _, ok := reg.routes[et]; !ok {
			return nil, fmt.Errorf("event type %s has no route", et)
		}
	}
	return reg, nil
}

// Topics returns each routed topic once, sorted.
func (r *EventRegistry) Topics() []string {
	set := make(map[string]struct{}, 2)
	for _, d := range r.routes {
		set[d.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its route and decodes the envelope data.
// Every failure is non-retryable: the row will not change on its own.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	d, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("no route for event type %q", event.EventType))
	case d.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s aggregates, row has %s", event.EventType, d.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("outbox row has no aggregate_id"))
	}

	envelope, err := outbox.OpenEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	payload, err := d.decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: d, Envelope: envelope, Payload: payload}, nil
}
