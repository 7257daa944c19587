// Package sqlite stores customers, WhatsApp accounts and outbox events in a
// single SQLite file. It mirrors the PostgreSQL repositories in package
// database for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const DefaultPath = "revolico_customers.db"

type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it. Use
// ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS whatsapp_accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    session_name TEXT NOT NULL,
    logged_in BOOLEAN NOT NULL DEFAULT 0,
    daily_limit INTEGER NOT NULL DEFAULT 100,
    sent_today INTEGER NOT NULL DEFAULT 0,
    last_reset_date DATETIME NOT NULL,
    total_sent INTEGER NOT NULL DEFAULT 0,
    total_failed INTEGER NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT 1,
    notes TEXT NOT NULL DEFAULT '',
    last_used_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS customers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL DEFAULT 'pending',
    notes TEXT NOT NULL DEFAULT '',
    source_url TEXT NOT NULL DEFAULT '',
    source_title TEXT NOT NULL DEFAULT '',
    seller TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    whatsapp_status TEXT NOT NULL DEFAULT '',
    whatsapp_account_id INTEGER REFERENCES whatsapp_accounts(id) ON DELETE SET NULL,
    contacted_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_status ON customers(status);
CREATE TABLE IF NOT EXISTS outbox_event (
    id TEXT PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    target_stream TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at DATETIME NOT NULL,
    processed_at DATETIME,
    next_retry_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event(status, next_retry_at);
`)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (d *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// timeValue scans a nullable timestamp column into local time.
type timeValue struct {
	Time  time.Time
	Valid bool
}

func (tv *timeValue) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		tv.Time, tv.Valid = time.Time{}, false
		return nil
	case time.Time:
		tv.Time, tv.Valid = v.Local(), true
		return nil
	case string:
		return tv.parse(v)
	case []byte:
		return tv.parse(string(v))
	case int64:
		tv.Time, tv.Valid = time.Unix(v, 0), true
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (tv *timeValue) parse(s string) error {
	for _, layout := range []string{timeFormat, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			tv.Time, tv.Valid = t.Local(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (tv timeValue) Ptr() *time.Time {
	if !tv.Valid {
		return nil
	}
	t := tv.Time
	return &t
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
}
