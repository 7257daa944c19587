package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/revolico-scraper/internal/database"
	"github.com/maltedev/revolico-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newCustomer(phone, title string) *models.Customer {
	return models.NewCustomer(phone, &models.Listing{
		URL:      "https://www.revolico.com/item/" + title,
		Title:    title,
		Seller:   "Juan",
		Category: "Móviles",
	})
}

func TestCustomerRepository_SaveDeduplicatesByPhone(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewCustomerRepository(db)

	created, err := repo.Save(ctx, newCustomer("+5356590251", "iphone-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Save(ctx, newCustomer("+5356590251", "nevera-2"))
	require.NoError(t, err)
	assert.False(t, created, "second listing with the same phone is not a new customer")

	customers, total, err := repo.List(ctx, models.CustomerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, customers, 1)
	assert.Equal(t, "iphone-1", customers[0].SourceTitle)
	assert.Equal(t, models.ContactStatusPending, customers[0].Status)

	pending, _, err := NewOutboxRepository(db).Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "one discovery event per new customer")
}

func TestCustomerRepository_GetAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewCustomerRepository(openTestDB(t))

	for _, c := range []*models.Customer{
		newCustomer("+5351111111", "laptop-dell"),
		newCustomer("+5352222222", "nevera-lg"),
		newCustomer("+5353333333", "laptop-hp"),
	} {
		_, err := repo.Save(ctx, c)
		require.NoError(t, err)
	}

	c, err := repo.GetByPhone(ctx, "+5352222222")
	require.NoError(t, err)
	assert.Equal(t, "nevera-lg", c.SourceTitle)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Phone, got.Phone)

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.GetByPhone(ctx, "+5359999999")
	assert.ErrorIs(t, err, models.ErrNotFound)

	t.Run("search", func(t *testing.T) {
		customers, total, err := repo.List(ctx, models.CustomerFilter{Search: "LAPTOP"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, customers, 2)
		assert.Equal(t, "laptop-hp", customers[0].SourceTitle, "newest first")
	})

	t.Run("paging", func(t *testing.T) {
		customers, total, err := repo.List(ctx, models.CustomerFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, customers, 1)
		assert.Equal(t, "+5352222222", customers[0].Phone)
	})

	t.Run("status", func(t *testing.T) {
		_, total, err := repo.List(ctx, models.CustomerFilter{Status: models.ContactStatusContacted})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestCustomerRepository_UpdateContact(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewCustomerRepository(db)
	accounts := NewAccountRepository(db)

	account := &models.WhatsAppAccount{Name: "Ventas", Active: true}
	require.NoError(t, accounts.Create(ctx, account))

	first := newCustomer("+5351111111", "a")
	second := newCustomer("+5352222222", "b")
	for _, c := range []*models.Customer{first, second} {
		_, err := repo.Save(ctx, c)
		require.NoError(t, err)
	}

	uncontacted, err := repo.ListUncontacted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, uncontacted, 2)
	assert.Equal(t, first.ID, uncontacted[0].ID, "oldest first")

	at := time.Now()
	err = repo.UpdateContact(ctx, first.ID, models.ContactUpdate{
		Status:         models.ContactStatusContacted,
		WhatsAppStatus: "sent",
		AccountID:      &account.ID,
		At:             at,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContactStatusContacted, got.Status)
	assert.Equal(t, "sent", got.WhatsAppStatus)
	require.NotNil(t, got.WhatsAppAccountID)
	assert.Equal(t, account.ID, *got.WhatsAppAccountID)
	require.NotNil(t, got.ContactedAt)
	assert.WithinDuration(t, at, *got.ContactedAt, time.Millisecond)

	require.NoError(t, repo.UpdateContact(ctx, second.ID, models.ContactUpdate{
		Status: models.ContactStatusFailed,
		Notes:  "número inválido",
	}))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CustomerStats{Total: 2, Contacted: 1, Pending: 0, Failed: 1}, stats)

	uncontacted, err = repo.ListUncontacted(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, uncontacted)

	err = repo.UpdateContact(ctx, 999, models.ContactUpdate{Status: models.ContactStatusContacted})
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = repo.UpdateContact(ctx, first.ID, models.ContactUpdate{Status: "called"})
	assert.Error(t, err)

	pending, err := NewOutboxRepository(db).GetPending(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, e := range pending {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{
		database.EventCustomerDiscovered,
		database.EventCustomerDiscovered,
		database.EventWhatsAppMessageSent,
	}, types)

	require.NoError(t, accounts.Delete(ctx, account.ID))
	got, err = repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, got.WhatsAppAccountID, "account id cleared when the account is deleted")

	deleted, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(openTestDB(t))

	a := &models.WhatsAppAccount{Name: "Ventas Habana", Active: true}
	require.NoError(t, repo.Create(ctx, a))
	assert.NotZero(t, a.ID)
	assert.Equal(t, models.DefaultDailyMessageLimit, a.DailyLimit)
	assert.Contains(t, a.SessionName, "wa_ventas_habana_")

	err := repo.Create(ctx, &models.WhatsAppAccount{Name: "Ventas Habana"})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	now := time.Now()
	a.LoggedIn = true
	a.RecordSent(now)
	require.NoError(t, repo.Update(ctx, a))

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.LoggedIn)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.SentToday)
	assert.Equal(t, 1, got.TotalSent)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, now, *got.LastUsedAt, time.Millisecond)

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, repo.Delete(ctx, a.ID))
	assert.ErrorIs(t, repo.Delete(ctx, a.ID), models.ErrNotFound)
	_, err = repo.Get(ctx, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	a.ID = 42
	assert.ErrorIs(t, repo.Update(ctx, a), models.ErrNotFound)
}

func TestOutboxRepository_RetryAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	customers := NewCustomerRepository(db)
	outbox := NewOutboxRepository(db)

	_, err := customers.Save(ctx, newCustomer("+5356590251", "x"))
	require.NoError(t, err)

	pending, err := outbox.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	event := pending[0]
	assert.Equal(t, database.DefaultStream, event.TargetStream)
	assert.JSONEq(t, `"+5356590251"`, mustField(t, event.Payload, "phone"))

	for i := 0; i < database.MaxRetryCount; i++ {
		require.NoError(t, outbox.MarkFailed(ctx, event.ID, assert.AnError))
	}

	pendingCount, dead, err := outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, pendingCount)
	assert.Equal(t, int64(1), dead)

	assert.ErrorIs(t, outbox.MarkProcessed(ctx, uuid.New()), models.ErrNotFound)
	assert.ErrorIs(t, outbox.MarkFailed(ctx, uuid.New(), assert.AnError), models.ErrNotFound)
}

func TestTimeValueScan(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		src   interface{}
		valid bool
	}{
		{"nil", nil, false},
		{"time", now, true},
		{"formatted", formatTime(now), true},
		{"bytes", []byte(formatTime(now)), true},
		{"sqlite default", "2026-10-19 10:00:00", true},
		{"unix", now.Unix(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tv timeValue
			require.NoError(t, tv.Scan(tt.src))
			assert.Equal(t, tt.valid, tv.Valid)
		})
	}

	var tv timeValue
	assert.Error(t, tv.Scan("yesterday"))
	assert.Error(t, tv.Scan(3.5))
}

func mustField(t *testing.T, payload []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	return string(m[field])
}
