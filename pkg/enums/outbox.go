package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregateProduct     OutboxAggregateType = "product"
)

// OutboxEventType names the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventPaymentSettled        OutboxEventType = "payment_settled"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentRefunded       OutboxEventType = "payment_refunded"
	EventPaymentReviewRequired OutboxEventType = "payment_review_required"
	EventStockRestored         OutboxEventType = "stock_restored"
)

// OutboxDLQErrorReason explains why an outbox row was parked.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var (
	aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateTransaction, AggregateProduct}
	eventTypes     = []OutboxEventType{
		EventOrderCreated, EventOrderStatusChanged,
		EventPaymentSettled, EventPaymentFailed, EventPaymentRefunded, EventPaymentReviewRequired,
		EventStockRestored,
	}
	dlqReasons = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}
)

func parseFrom[T ~string](known []T, kind, value string) (T, error) {
	if v := T(value); slices.Contains(known, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}

func (a OutboxAggregateType) IsValid() bool  { return slices.Contains(aggregateTypes, a) }
func (e OutboxEventType) IsValid() bool      { return slices.Contains(eventTypes, e) }
func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(dlqReasons, r) }

// OutboxEventTypes lists every event type the outbox can carry.
func OutboxEventTypes() []OutboxEventType { return slices.Clone(eventTypes) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseFrom(aggregateTypes, "aggregate type", value)
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseFrom(eventTypes, "event type", value)
}
