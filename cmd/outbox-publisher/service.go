package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox/registry"
)

const (
	publisherName = "outbox-publisher"

	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10

	maxIdleBackoff = 10 * time.Second
	backoffJitter  = 250 * time.Millisecond
)

type pinger interface {
	Ping(context.Context) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type dlqParker interface {
	Park(ctx context.Context, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error
}

// deliveryGuard is satisfied by *idempotency.Guard.
type deliveryGuard interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Holder(ctx context.Context, eventID uuid.UUID) (string, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               pinger
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQ              dlqParker
	// Guard is optional; without it a failed MarkPublished can re-deliver.
	Guard   deliveryGuard
	Metrics *metrics.OutboxMetrics
}

// Service drains outbox_events into Pub/Sub. Each poll publishes the whole
// batch before waiting on any acknowledgement so the client can batch the
// messages, then settles every row: published, retried later or parked.
type Service struct {
	logg      *logger.Logger
	db        pinger
	pubsub    pubSubClient
	repo      outboxRepository
	registry  registryResolver
	dlq       dlqParker
	guard     deliveryGuard
	metrics   *metrics.OutboxMetrics
	publisher publisherFactory

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

// delivery tracks one row through a batch.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	fields   map[string]any
	result   publishResult
	claimed  bool
}

func NewService(params ServiceParams) (*Service, error) {
	var missing []error
	for _, dep := range []struct {
		ok   bool
		name string
	}{
		{params.Config != nil, "config"},
		{params.Logger != nil, "logger"},
		{params.DB != nil, "database client"},
		{params.PubSub != nil, "pubsub client"},
		{params.Repository != nil, "outbox repository"},
		{params.Registry != nil, "event registry"},
		{params.DLQ != nil, "dlq repository"},
	} {
		if !dep.ok {
			missing = append(missing, fmt.Errorf("%s is required", dep.name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	s := &Service{
		logg:           params.Logger,
		db:             params.DB,
		pubsub:         params.PubSub,
		repo:           params.Repository,
		registry:       params.Registry,
		dlq:            params.DLQ,
		guard:          params.Guard,
		metrics:        params.Metrics,
		publisher:      params.PublisherFactory,
		batchSize:      orDefault(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:    orDefault(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval:   orDefault(time.Duration(params.Config.Outbox.PollIntervalMS)*time.Millisecond, defaultPollInterval),
		publishTimeout: orDefault(params.Config.Outbox.PublishTimeout, defaultPublishTimeout),
		now:            time.Now,
	}
	if s.publisher == nil {
		s.publisher = func(topic string) publisher {
			p := params.PubSub.Publisher(topic)
			if p == nil {
				return nil
			}
			return gcpPublisher{p}
		}
	}
	return s, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// Run polls until ctx ends. Full batches are followed immediately by the
// next poll; an empty poll waits pollInterval; failed polls back off
// exponentially up to maxIdleBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	backoff := s.newBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait, _ = backoff.Next()
		case processed:
			backoff = s.newBackoff()
			continue
		default:
			backoff = s.newBackoff()
			wait = s.pollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithCappedDuration(maxIdleBackoff, b)
	return retry.WithJitter(backoffJitter, b)
}

// processBatch reports whether any rows were fetched. A row that fails to
// publish never stops the rest of the batch; only bookkeeping failures
// (mark, park) abort it.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	events, err := s.repo.FetchUnpublished(ctx, s.batchSize, s.maxAttempts)
	if err != nil {
		return false, fmt.Errorf("fetch unpublished: %w", err)
	}
	s.metrics.BatchSize(len(events))
	if len(events) == 0 {
		return false, nil
	}

	pending := make([]*delivery, 0, len(events))
	for _, event := range events {
		d, err := s.prepare(ctx, event)
		if err != nil {
			return true, err
		}
		if d != nil {
			pending = append(pending, d)
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	for _, d := range pending {
		s.send(publishCtx, d)
	}
	for _, d := range pending {
		if err := s.settle(ctx, publishCtx, d); err != nil {
			return true, err
		}
	}
	return true, nil
}

// prepare resolves and claims a row. It returns nil when the row needs no
// publish: parked as undeliverable, or already delivered by an earlier run.
func (s *Service) prepare(ctx context.Context, event models.OutboxEvent) (*delivery, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return nil, s.park(ctx, &delivery{event: event, fields: eventFields(event, nil)}, enums.OutboxDLQReasonNonRetryable, err)
	}
	d := &delivery{event: event, resolved: resolved, fields: eventFields(event, resolved)}
	if s.guard == nil {
		return d, nil
	}

	claimed, err := s.guard.Claim(ctx, event.ID)
	switch {
	case err != nil:
		s.logg.Warn(s.logg.WithFields(ctx, withError(d.fields, err)), "delivery guard unavailable; publishing anyway")
	case !claimed:
		fields := d.fields
		if holder, err := s.guard.Holder(ctx, event.ID); err == nil && holder != "" {
			fields = withField(fields, "delivered_by", holder)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event already delivered")
		s.metrics.Outcome(resolved.Descriptor.Topic, metrics.OutboxDuplicate)
		if err := s.repo.MarkPublished(ctx, event.ID); err != nil {
			return nil, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		return nil, nil
	default:
		d.claimed = true
	}
	return d, nil
}

func (s *Service) send(ctx context.Context, d *delivery) {
	topic := d.resolved.Descriptor.Topic
	pub := s.publisher(topic)
	if pub == nil {
		d.result = failedResult{registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))}
		return
	}
	d.result = pub.Publish(ctx, &gcppubsub.Message{
		Data: d.event.Payload,
		Attributes: map[string]string{
			"event_id":       d.resolved.Envelope.EventID,
			"event_type":     string(d.event.EventType),
			"aggregate_type": string(d.event.AggregateType),
			"aggregate_id":   d.event.AggregateID.String(),
			"created_at":     d.event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if d.result == nil {
		d.result = failedResult{registry.NewNonRetryableError(fmt.Errorf("publisher for %s returned no result", topic))}
	}
}

func (s *Service) settle(ctx, publishCtx context.Context, d *delivery) error {
	topic := d.resolved.Descriptor.Topic
	_, pubErr := d.result.Get(publishCtx)
	if pubErr == nil {
		if err := s.repo.MarkPublished(ctx, d.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, err)
		}
		s.metrics.Delivered(topic, d.event.CreatedAt, s.now())
		s.logg.Debug(s.logg.WithFields(ctx, d.fields), "outbox event published")
		return nil
	}

	if d.claimed {
		if err := s.guard.Release(ctx, d.event.ID); err != nil {
			s.logg.Error(s.logg.WithFields(ctx, d.fields), "release delivery claim", err)
		}
	}

	var terminal registry.NonRetryableError
	if errors.As(pubErr, &terminal) {
		return s.park(ctx, d, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	attempt := d.event.AttemptCount + 1
	d.fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		return s.park(ctx, d, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", attempt, pubErr))
	}

	s.metrics.Outcome(topic, metrics.OutboxRetried)
	s.logg.Warn(s.logg.WithFields(ctx, withError(d.fields, pubErr)), "outbox publish failed; will retry")
	if err := s.repo.MarkFailed(ctx, d.event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", d.event.ID, err)
	}
	return nil
}

func (s *Service) park(ctx context.Context, d *delivery, reason enums.OutboxDLQErrorReason, cause error) error {
	topic := ""
	if d.resolved != nil {
		topic = d.resolved.Descriptor.Topic
	}
	d.fields["error_reason"] = reason
	s.logg.Warn(s.logg.WithFields(ctx, withError(d.fields, cause)), "outbox event parked in dlq")
	s.metrics.Outcome(topic, metrics.OutboxParked)
	if err := s.dlq.Park(ctx, d.event, reason, cause); err != nil {
		return fmt.Errorf("park %s: %w", d.event.ID, err)
	}
	return nil
}

func eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		fields["event_id"] = resolved.Envelope.EventID
	}
	return fields
}

func withError(fields map[string]any, err error) map[string]any {
	return withField(fields, "error", err.Error())
}

// withField copies fields so the per-delivery map is never shared.
func withField(fields map[string]any, key string, value any) map[string]any {
	out := maps.Clone(fields)
	if out == nil {
		out = map[string]any{}
	}
	out[key] = value
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpPublisher struct{ *gcppubsub.Publisher }

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

type failedResult struct{ err error }

func (r failedResult) Get(context.Context) (string, error) { return "", r.err }

