package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/maltedev/revolico-scraper/internal/models"
)

const accountColumns = `id, name, session_name, logged_in, daily_limit, sent_today, last_reset_date,
	total_sent, total_failed, active, notes, last_used_at, created_at, updated_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, a *models.WhatsAppAccount) error {
	now := time.Now()
	if a.DailyLimit <= 0 {
		a.DailyLimit = models.DefaultDailyMessageLimit
	}
	if a.SessionName == "" {
		a.SessionName = models.SessionNameFor(a.Name, now)
	}
	if a.LastResetDate.IsZero() {
		a.LastResetDate = now
	}

	query := `
		INSERT INTO whatsapp_accounts (
			name, session_name, logged_in, daily_limit, sent_today, last_reset_date,
			total_sent, total_failed, active, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id, created_at, updated_at`

	err := r.db.pool.QueryRow(ctx, query,
		a.Name, a.SessionName, a.LoggedIn, a.DailyLimit, a.SentToday, a.LastResetDate,
		a.TotalSent, a.TotalFailed, a.Active, a.Notes, now,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("account %q: %w", a.Name, models.ErrDuplicate)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) Get(ctx context.Context, id int64) (*models.WhatsAppAccount, error) {
	a, err := scanAccount(r.db.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM whatsapp_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]models.WhatsAppAccount, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+accountColumns+` FROM whatsapp_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.WhatsAppAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return accounts, nil
}

// Update writes every mutable field of a.
func (r *AccountRepository) Update(ctx context.Context, a *models.WhatsAppAccount) error {
	a.UpdatedAt = time.Now()
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE whatsapp_accounts SET
			session_name = $1, logged_in = $2, daily_limit = $3, sent_today = $4,
			last_reset_date = $5, total_sent = $6, total_failed = $7, active = $8,
			notes = $9, last_used_at = $10, updated_at = $11
		WHERE id = $12`,
		a.SessionName, a.LoggedIn, a.DailyLimit, a.SentToday,
		a.LastResetDate, a.TotalSent, a.TotalFailed, a.Active,
		a.Notes, a.LastUsedAt, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", a.ID, models.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM whatsapp_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.WhatsAppAccount, error) {
	a := &models.WhatsAppAccount{}
	err := row.Scan(
		&a.ID, &a.Name, &a.SessionName, &a.LoggedIn, &a.DailyLimit, &a.SentToday, &a.LastResetDate,
		&a.TotalSent, &a.TotalFailed, &a.Active, &a.Notes, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
