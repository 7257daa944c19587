package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/revolico-scraper/internal/database"
	"github.com/maltedev/revolico-scraper/internal/models"
)

// OutboxRepository satisfies database.OutboxRepo so the Redis relay works
// with either driver.
type OutboxRepository struct {
	db *DB
}

var _ database.OutboxRepo = (*OutboxRepository)(nil)

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) insertWithTx(ctx context.Context, tx *sql.Tx, event *database.OutboxEvent) error {
	if err := event.Prepare(time.Now()); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(), event.AggregateType, event.AggregateID, event.EventType,
		string(event.Payload), event.TargetStream, event.Status, event.RetryCount,
		formatTime(event.CreatedAt), formatTimePtr(event.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*database.OutboxEvent, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN (?, ?) AND next_retry_at <= ?
		ORDER BY created_at ASC
		LIMIT ?`,
		database.OutboxStatusPending, database.OutboxStatusFailed, formatTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*database.OutboxEvent
	for rows.Next() {
		var (
			event                           database.OutboxEvent
			id, payload                     string
			createdAt, processedAt, retryAt timeValue
		)
		err := rows.Scan(
			&id, &event.AggregateType, &event.AggregateID, &event.EventType,
			&payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &createdAt, &processedAt, &retryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid event id %q: %w", id, err)
		}
		event.Payload = []byte(payload)
		event.CreatedAt = createdAt.Time
		event.ProcessedAt = processedAt.Ptr()
		event.NextRetryAt = retryAt.Ptr()
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.db.ExecContext(ctx,
		`UPDATE outbox_event SET status = ?, processed_at = ? WHERE id = ?`,
		database.OutboxStatusProcessed, formatTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.db.QueryRowContext(ctx,
		`SELECT retry_count FROM outbox_event WHERE id = ?`, id.String()).Scan(&retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	status, retryCount := database.NextFailureState(retryCount)
	_, err = r.db.db.ExecContext(ctx, `
		UPDATE outbox_event
		SET status = ?, retry_count = ?, error_message = ?, next_retry_at = ?
		WHERE id = ?`,
		status, retryCount, processErr.Error(), formatTime(database.NextRetryTime(retryCount, time.Now())), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) Counts(ctx context.Context) (pending, deadLetter int64, err error) {
	err = r.db.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN (?, ?)),
			COUNT(*) FILTER (WHERE status = ?)
		FROM outbox_event`,
		database.OutboxStatusPending, database.OutboxStatusFailed, database.OutboxStatusDeadLetter,
	).Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}
