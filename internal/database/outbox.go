package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/revolico-scraper/internal/models"
)

const (
	// OutboxStatusPending indicates the event is waiting to be processed
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event was successfully processed
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates the event processing failed (will be retried)
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the maximum number of retries before moving to dead letter
	MaxRetryCount = 5

	DefaultStream = "stream:revolico_customers"

	AggregateCustomer = "customer"

	EventCustomerDiscovered    = "CUSTOMER_DISCOVERED"
	EventCustomerContacted     = "CUSTOMER_CONTACTED"
	EventWhatsAppMessageSent   = "WHATSAPP_MESSAGE_SENT"
	EventWhatsAppMessageFailed = "WHATSAPP_MESSAGE_FAILED"
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// OutboxEvent represents an event in the transactional outbox
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// Prepare fills defaults and checks required fields before insert.
func (e *OutboxEvent) Prepare(now time.Time) error {
	if e.AggregateType == "" || e.AggregateID == "" || e.EventType == "" {
		return fmt.Errorf("%w: aggregate type, aggregate id and event type are required", ErrInvalidEvent)
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidEvent)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	if e.TargetStream == "" {
		e.TargetStream = DefaultStream
	}
	e.CreatedAt = now
	if e.NextRetryAt == nil {
		e.NextRetryAt = &now
	}
	return nil
}

type customerPayload struct {
	CustomerID  int64     `json:"customer_id"`
	Phone       string    `json:"phone"`
	Status      string    `json:"status"`
	SourceURL   string    `json:"source_url,omitempty"`
	SourceTitle string    `json:"source_title,omitempty"`
	Seller      string    `json:"seller,omitempty"`
	Category    string    `json:"category,omitempty"`
	AccountID   *int64    `json:"whatsapp_account_id,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CustomerDiscoveredEvent is written in the same transaction as a new customer.
func CustomerDiscoveredEvent(c *models.Customer) (*OutboxEvent, error) {
	return customerEvent(EventCustomerDiscovered, customerPayload{
		CustomerID:  c.ID,
		Phone:       c.Phone,
		Status:      string(c.Status),
		SourceURL:   c.SourceURL,
		SourceTitle: c.SourceTitle,
		Seller:      c.Seller,
		Category:    c.Category,
		OccurredAt:  c.CreatedAt,
	})
}

// ContactEvent returns the event for a recorded contact attempt, or nil when
// the update does not describe one.
func ContactEvent(c *models.Customer, u models.ContactUpdate) (*OutboxEvent, error) {
	var eventType string
	switch {
	case u.AccountID != nil && u.Status == models.ContactStatusContacted:
		eventType = EventWhatsAppMessageSent
	case u.AccountID != nil && u.Status == models.ContactStatusFailed:
		eventType = EventWhatsAppMessageFailed
	case u.Status == models.ContactStatusContacted:
		eventType = EventCustomerContacted
	default:
		return nil, nil
	}

	return customerEvent(eventType, customerPayload{
		CustomerID: c.ID,
		Phone:      c.Phone,
		Status:     string(u.Status),
		AccountID:  u.AccountID,
		Notes:      u.Notes,
		OccurredAt: u.At,
	})
}

func customerEvent(eventType string, p customerPayload) (*OutboxEvent, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &OutboxEvent{
		AggregateType: AggregateCustomer,
		AggregateID:   strconv.FormatInt(p.CustomerID, 10),
		EventType:     eventType,
		Payload:       payload,
		TargetStream:  DefaultStream,
	}, nil
}

// NextRetryTime calculates exponential backoff for retries
func NextRetryTime(retryCount int, now time.Time) time.Time {
	// 2s, 4s, 8s, 16s... capped at 5 minutes
	backoffSeconds := 300
	if retryCount < 9 {
		backoffSeconds = 1 << retryCount
	}
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return now.Add(time.Duration(backoffSeconds) * time.Second)
}

// NextFailureState returns the status and retry count after one more failure.
func NextFailureState(retryCount int) (string, int) {
	retryCount++
	if retryCount >= MaxRetryCount {
		return OutboxStatusDeadLetter, retryCount
	}
	return OutboxStatusFailed, retryCount
}

// OutboxRepository handles outbox event persistence
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx inserts an event into the outbox within a transaction
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.Prepare(time.Now()); err != nil {
		return err
	}

	query := `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending retrieves pending events ready for processing
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2)
			AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query,
		OutboxStatusPending, OutboxStatusFailed,
		time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// MarkProcessed marks an event as successfully processed
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_event
		SET status = $1, processed_at = $2
		WHERE id = $3`

	result, err := r.db.pool.Exec(ctx, query, OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}

	return nil
}

// MarkFailed marks an event as failed and schedules retry
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.pool.QueryRow(ctx,
		"SELECT retry_count FROM outbox_event WHERE id = $1", id).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	status, retryCount := NextFailureState(retryCount)
	now := time.Now()

	query := `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`

	_, err = r.db.pool.Exec(ctx, query, status, retryCount, processErr.Error(), NextRetryTime(retryCount, now), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// Counts returns the number of events still to relay and those given up on.
func (r *OutboxRepository) Counts(ctx context.Context) (pending, deadLetter int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`

	err = r.db.pool.QueryRow(ctx, query, OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter).
		Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}
