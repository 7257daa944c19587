package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxEventPrepare(t *testing.T) {
	now := time.Now()

	t.Run("fills defaults", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateCustomer,
			AggregateID:   "1",
			EventType:     EventCustomerDiscovered,
			Payload:       json.RawMessage(`{"phone":"+5356590251"}`),
		}

		require.NoError(t, event.Prepare(now))
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultStream, event.TargetStream)
		assert.Equal(t, now, event.CreatedAt)
		require.NotNil(t, event.NextRetryAt)
	})

	testCases := []struct {
		name  string
		event *OutboxEvent
	}{
		{"missing aggregate type", &OutboxEvent{AggregateID: "1", EventType: EventCustomerDiscovered, Payload: json.RawMessage(`{}`)}},
		{"missing event type", &OutboxEvent{AggregateType: AggregateCustomer, AggregateID: "1", Payload: json.RawMessage(`{}`)}},
		{"missing payload", &OutboxEvent{AggregateType: AggregateCustomer, AggregateID: "1", EventType: EventCustomerDiscovered}},
		{"invalid payload", &OutboxEvent{AggregateType: AggregateCustomer, AggregateID: "1", EventType: EventCustomerDiscovered, Payload: json.RawMessage(`{`)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.event.Prepare(now), ErrInvalidEvent)
		})
	}
}

func TestCustomerEvents(t *testing.T) {
	c := &models.Customer{
		ID:          12,
		Phone:       "+5356590251",
		Status:      models.ContactStatusPending,
		SourceURL:   "https://www.revolico.com/item/nevera-1",
		SourceTitle: "Nevera",
		CreatedAt:   time.Now(),
	}

	discovered, err := CustomerDiscoveredEvent(c)
	require.NoError(t, err)
	assert.Equal(t, EventCustomerDiscovered, discovered.EventType)
	assert.Equal(t, "12", discovered.AggregateID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(discovered.Payload, &payload))
	assert.Equal(t, "+5356590251", payload["phone"])
	assert.Equal(t, "Nevera", payload["source_title"])

	account := int64(3)
	tests := []struct {
		name     string
		update   models.ContactUpdate
		expected string
	}{
		{"whatsapp sent", models.ContactUpdate{Status: models.ContactStatusContacted, AccountID: &account}, EventWhatsAppMessageSent},
		{"whatsapp failed", models.ContactUpdate{Status: models.ContactStatusFailed, AccountID: &account}, EventWhatsAppMessageFailed},
		{"manual contact", models.ContactUpdate{Status: models.ContactStatusContacted}, EventCustomerContacted},
		{"reset to pending", models.ContactUpdate{Status: models.ContactStatusPending}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ContactEvent(c, tt.update)
			require.NoError(t, err)
			if tt.expected == "" {
				assert.Nil(t, event)
				return
			}
			require.NotNil(t, event)
			assert.Equal(t, tt.expected, event.EventType)
		})
	}
}

func TestFailureBackoff(t *testing.T) {
	status, count := NextFailureState(0)
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, 1, count)

	status, count = NextFailureState(MaxRetryCount - 1)
	assert.Equal(t, OutboxStatusDeadLetter, status)
	assert.Equal(t, MaxRetryCount, count)

	now := time.Now()
	assert.Equal(t, now.Add(2*time.Second), NextRetryTime(1, now))
	assert.Equal(t, now.Add(16*time.Second), NextRetryTime(4, now))
	assert.Equal(t, now.Add(300*time.Second), NextRetryTime(12, now))
}

// setupTestDB connects to the database named by DATABASE_URL and resets the
// schema. Tests are skipped when it is not set.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Exec(ctx, `TRUNCATE outbox_event, customers, whatsapp_accounts RESTART IDENTITY`)
	require.NoError(t, err)

	return db
}

func TestOutboxRepository_Integration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	insert := func(t *testing.T, aggregateID string) *OutboxEvent {
		event := &OutboxEvent{
			AggregateType: AggregateCustomer,
			AggregateID:   aggregateID,
			EventType:     EventCustomerDiscovered,
			Payload:       json.RawMessage(`{"customer_id":` + aggregateID + `}`),
		}
		require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		}))
		return event
	}

	first := insert(t, "1")
	second := insert(t, "2")

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, repo.MarkProcessed(ctx, first.ID))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), models.ErrNotFound)

	require.NoError(t, repo.MarkFailed(ctx, second.ID, assert.AnError))
	pending, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed event waits for its retry time")

	pendingCount, dead, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pendingCount)
	assert.Zero(t, dead)
}
