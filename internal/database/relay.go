package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/revolico-scraper/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// StreamPublisher is the part of the Redis client the relay writes with.
type StreamPublisher interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is implemented by the PostgreSQL and SQLite outbox repositories.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxBatches bounds how many full batches one poll drains.
	MaxBatches int
	// MaxLen approximately trims each stream; 0 keeps every entry.
	MaxLen int64
}

// Relay moves customer events from the outbox to Redis streams. Delivery is
// at least once: an event whose processed mark fails is published again.
type Relay struct {
	publisher  StreamPublisher
	outbox     OutboxRepo
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	maxBatches int
	maxLen     int64
	deadSeen   int64
}

// Backlog is what is left in the outbox after a drain.
type Backlog struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

func NewRelay(outbox OutboxRepo, publisher StreamPublisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		publisher:  publisher,
		outbox:     outbox,
		logger:     logger.With("component", "relay"),
		interval:   cfg.PollInterval,
		batchSize:  cfg.BatchSize,
		maxBatches: cfg.MaxBatches,
		maxLen:     cfg.MaxLen,
	}
}

// Run drains the outbox once immediately and then every poll interval until
// ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.poll(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) poll(ctx context.Context) {
	published, err := r.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("failed to drain outbox", "error", err)
	}
	if published > 0 {
		r.logger.Info("customer events published", "count", published)
	}

	backlog, err := r.Backlog(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to count outbox backlog", "error", err)
		}
		return
	}
	if backlog.DeadLetter > r.deadSeen {
		r.logger.Warn("customer events moved to dead letter",
			"dead_letter", backlog.DeadLetter,
			"new", backlog.DeadLetter-r.deadSeen)
	}
	r.deadSeen = backlog.DeadLetter
}

// Drain publishes pending events batch by batch until a short batch shows
// nothing is left or the batch limit is reached. It returns how many events
// were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	published := 0
	for i := 0; i < r.maxBatches; i++ {
		batch, err := r.outbox.GetPending(ctx, r.batchSize)
		if err != nil {
			return published, fmt.Errorf("failed to get pending events: %w", err)
		}

		for _, event := range batch {
			if err := ctx.Err(); err != nil {
				return published, err
			}
			if r.publish(ctx, event) {
				published++
			}
		}

		if len(batch) < r.batchSize {
			break
		}
	}
	return published, nil
}

// Backlog reads the outbox counters and exports them as metrics.
func (r *Relay) Backlog(ctx context.Context) (Backlog, error) {
	pending, dead, err := r.outbox.Counts(ctx)
	if err != nil {
		return Backlog{}, err
	}
	metrics.SetOutboxBacklog(pending, dead)
	return Backlog{Pending: pending, DeadLetter: dead}, nil
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) bool {
	log := r.logger.With(
		"event_id", event.ID,
		"event_type", event.EventType,
		"customer_id", event.AggregateID)

	values, err := streamValues(event)
	if err == nil {
		err = r.publisher.XAdd(ctx, &redis.XAddArgs{
			Stream: event.TargetStream,
			MaxLen: r.maxLen,
			Approx: r.maxLen > 0,
			Values: values,
		}).Err()
		if err != nil {
			err = fmt.Errorf("failed to publish to redis: %w", err)
		}
	}

	if err != nil {
		metrics.RecordOutbox("failed")
		log.Warn("event not published", "attempt", event.RetryCount+1, "error", err)
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			log.Error("failed to mark event as failed", "error", markErr)
		}
		return false
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		log.Error("failed to mark event as processed", "error", err)
		return false
	}
	metrics.RecordOutbox("published")
	log.Debug("event published", "stream", event.TargetStream)
	return true
}

// streamMessage is the JSON carried in the "data" field of every entry.
type streamMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// streamValues flattens a customer event into stream fields so consumers can
// filter on phone, status or account without decoding the JSON body.
func streamValues(event *OutboxEvent) (map[string]interface{}, error) {
	var p customerPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if p.Phone == "" {
		return nil, fmt.Errorf("%w: %s without phone", ErrInvalidEvent, event.EventType)
	}

	occurred := p.OccurredAt
	if occurred.IsZero() {
		occurred = event.CreatedAt
	}
	data, err := json.Marshal(streamMessage{
		ID:         event.ID.String(),
		Type:       event.EventType,
		OccurredAt: occurred.UTC(),
		Payload:    event.Payload,
	})
	if err != nil {
		return nil, err
	}

	values := map[string]interface{}{
		"event_type":  event.EventType,
		"customer_id": strconv.FormatInt(p.CustomerID, 10),
		"phone":       p.Phone,
		"data":        string(data),
	}
	if p.Status != "" {
		values["status"] = p.Status
	}
	if p.Category != "" {
		values["category"] = p.Category
	}
	if p.AccountID != nil {
		values["whatsapp_account_id"] = strconv.FormatInt(*p.AccountID, 10)
	}
	return values, nil
}
