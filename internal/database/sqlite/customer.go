package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maltedev/revolico-scraper/internal/database"
	"github.com/maltedev/revolico-scraper/internal/models"
)

const customerColumns = `id, phone, status, notes, source_url, source_title, seller, category,
	whatsapp_status, whatsapp_account_id, contacted_at, created_at, updated_at`

type CustomerRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewCustomerRepository(db *DB) *CustomerRepository {
	return &CustomerRepository{db: db, outbox: NewOutboxRepository(db)}
}

// Save inserts c unless its phone is already stored and reports whether a
// row was created. The CUSTOMER_DISCOVERED event is queued in the same
// transaction.
func (r *CustomerRepository) Save(ctx context.Context, c *models.Customer) (bool, error) {
	if c.Status == "" {
		c.Status = models.ContactStatusPending
	}
	now := time.Now()

	created := false
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO customers (
				phone, status, notes, source_url, source_title, seller, category,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (phone) DO NOTHING
			RETURNING id`,
			c.Phone, c.Status, c.Notes, c.SourceURL, c.SourceTitle, c.Seller, c.Category,
			formatTime(now), formatTime(now),
		).Scan(&c.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert customer: %w", err)
		}
		c.CreatedAt, c.UpdatedAt = now, now

		event, err := database.CustomerDiscoveredEvent(c)
		if err != nil {
			return err
		}
		if err := r.outbox.insertWithTx(ctx, tx, event); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *CustomerRepository) Get(ctx context.Context, id int64) (*models.Customer, error) {
	c, err := scanCustomer(r.db.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) GetByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	c, err := scanCustomer(r.db.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", phone, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) List(ctx context.Context, f models.CustomerFilter) ([]models.Customer, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		conds = append(conds, "(phone LIKE ? OR source_title LIKE ? OR seller LIKE ?)")
		args = append(args, like, like, like)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count customers: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers, err := collectCustomers(rows)
	if err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

func (r *CustomerRepository) Stats(ctx context.Context) (models.CustomerStats, error) {
	var s models.CustomerStats
	err := r.db.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = ?),
			COUNT(*) FILTER (WHERE status = ?),
			COUNT(*) FILTER (WHERE status = ?)
		FROM customers`,
		models.ContactStatusContacted, models.ContactStatusPending, models.ContactStatusFailed,
	).Scan(&s.Total, &s.Contacted, &s.Pending, &s.Failed)
	if err != nil {
		return s, fmt.Errorf("failed to get customer stats: %w", err)
	}
	return s, nil
}

func (r *CustomerRepository) UpdateContact(ctx context.Context, id int64, u models.ContactUpdate) error {
	if !u.Status.Valid() {
		return fmt.Errorf("invalid contact status %q", u.Status)
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		var contactedAt interface{}
		if u.Status == models.ContactStatusContacted {
			contactedAt = formatTime(u.At)
		}

		c, err := scanCustomer(tx.QueryRowContext(ctx, `
			UPDATE customers SET
				status = ?,
				notes = CASE WHEN ? = '' THEN notes ELSE ? END,
				whatsapp_status = CASE WHEN ? = '' THEN whatsapp_status ELSE ? END,
				whatsapp_account_id = COALESCE(?, whatsapp_account_id),
				contacted_at = COALESCE(?, contacted_at),
				updated_at = ?
			WHERE id = ?
			RETURNING `+customerColumns,
			u.Status, u.Notes, u.Notes, u.WhatsAppStatus, u.WhatsAppStatus,
			u.AccountID, contactedAt, formatTime(u.At), id,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("customer %d: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to update customer: %w", err)
		}

		event, err := database.ContactEvent(c, u)
		if err != nil || event == nil {
			return err
		}
		return r.outbox.insertWithTx(ctx, tx, event)
	})
}

func (r *CustomerRepository) ListUncontacted(ctx context.Context, limit int) ([]models.Customer, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE status = ? ORDER BY id ASC LIMIT ?`,
		models.ContactStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncontacted customers: %w", err)
	}
	defer rows.Close()

	return collectCustomers(rows)
}

func (r *CustomerRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.db.ExecContext(ctx, `DELETE FROM customers`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete customers: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		c                               models.Customer
		accountID                       sql.NullInt64
		contactedAt, createdAt, updated timeValue
	)
	err := row.Scan(
		&c.ID, &c.Phone, &c.Status, &c.Notes, &c.SourceURL, &c.SourceTitle, &c.Seller, &c.Category,
		&c.WhatsAppStatus, &accountID, &contactedAt, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		id := accountID.Int64
		c.WhatsAppAccountID = &id
	}
	c.ContactedAt = contactedAt.Ptr()
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updated.Time
	return &c, nil
}

func collectCustomers(rows *sql.Rows) ([]models.Customer, error) {
	var customers []models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return customers, nil
}
