package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/revolico-scraper/internal/config"
	"github.com/maltedev/revolico-scraper/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Default().Database
	cfg.SQLitePath = filepath.Join(t.TempDir(), "customers.db")

	store, err := OpenStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, config.DriverSQLite, store.Driver)

	created, err := store.Customers.Save(context.Background(), models.NewCustomer("+5356590251", nil))
	require.NoError(t, err)
	assert.True(t, created)

	pending, _, err := store.Outbox.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = "mysql"

	_, err := OpenStore(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	sc := config.Default().Scraper

	policy := RetryPolicy(sc, discardLogger())
	assert.Equal(t, 3, policy.MaxAttempts)
	require.NotNil(t, policy.Backoff)

	first := policy.Backoff(1)
	assert.GreaterOrEqual(t, first, 10*time.Second)
	assert.LessOrEqual(t, first, 12*time.Second)
	assert.LessOrEqual(t, policy.Backoff(10), 72*time.Second)
}

func TestNewScraper(t *testing.T) {
	cfg := config.Default()
	client, cleanup, err := NewFetchClient(cfg, nil, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	s, err := NewScraper(cfg.Scraper, 5, ScraperDeps{Client: client, Logger: discardLogger()})
	require.NoError(t, err)
	assert.NotNil(t, s)

	cfg.Scraper.BaseURL = "not a url"
	_, err = NewScraper(cfg.Scraper, 0, ScraperDeps{Client: client})
	assert.Error(t, err)
}
