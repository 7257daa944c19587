package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/revolico-scraper/internal/models"
)

const accountColumns = `id, name, session_name, logged_in, daily_limit, sent_today, last_reset_date,
	total_sent, total_failed, active, notes, last_used_at, created_at, updated_at`

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

	res, err := r.db.db.ExecContext(ctx, `
		INSERT INTO whatsapp_accounts (
			name, session_name, logged_in, daily_limit, sent_today, last_reset_date,
			total_sent, total_failed, active, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.SessionName, a.LoggedIn, a.DailyLimit, a.SentToday, formatTime(a.LastResetDate),
		a.TotalSent, a.TotalFailed, a.Active, a.Notes, formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %q: %w", a.Name, models.ErrDuplicate)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read account id: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

func (r *AccountRepository) Get(ctx context.Context, id int64) (*models.WhatsAppAccount, error) {
	a, err := scanAccount(r.db.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM whatsapp_accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]models.WhatsAppAccount, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM whatsapp_accounts ORDER BY id`)
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

func (r *AccountRepository) Update(ctx context.Context, a *models.WhatsAppAccount) error {
	a.UpdatedAt = time.Now()
	res, err := r.db.db.ExecContext(ctx, `
		UPDATE whatsapp_accounts SET
			session_name = ?, logged_in = ?, daily_limit = ?, sent_today = ?,
			last_reset_date = ?, total_sent = ?, total_failed = ?, active = ?,
			notes = ?, last_used_at = ?, updated_at = ?
		WHERE id = ?`,
		a.SessionName, a.LoggedIn, a.DailyLimit, a.SentToday,
		formatTime(a.LastResetDate), a.TotalSent, a.TotalFailed, a.Active,
		a.Notes, formatTimePtr(a.LastUsedAt), formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", a.ID, models.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.db.ExecContext(ctx, `DELETE FROM whatsapp_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func scanAccount(row rowScanner) (*models.WhatsAppAccount, error) {
	var (
		a                              models.WhatsAppAccount
		resetAt, lastUsed, created, up timeValue
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.SessionName, &a.LoggedIn, &a.DailyLimit, &a.SentToday, &resetAt,
		&a.TotalSent, &a.TotalFailed, &a.Active, &a.Notes, &lastUsed, &created, &up,
	)
	if err != nil {
		return nil, err
	}
	a.LastResetDate = resetAt.Time
	a.LastUsedAt = lastUsed.Ptr()
	a.CreatedAt = created.Time
	a.UpdatedAt = up.Time
	return &a, nil
}
