package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
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

// Save inserts c unless its phone is already stored. It reports whether a row
// was created; a duplicate is not an error. A new customer and its
// CUSTOMER_DISCOVERED outbox event are committed together.
func (r *CustomerRepository) Save(ctx context.Context, c *models.Customer) (bool, error) {
	if c.Status == "" {
		c.Status = models.ContactStatusPending
	}
	now := time.Now()

	created := false
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO customers (
				phone, status, notes, source_url, source_title, seller, category,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (phone) DO NOTHING
			RETURNING id, created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			c.Phone, c.Status, c.Notes, c.SourceURL, c.SourceTitle, c.Seller, c.Category, now,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert customer: %w", err)
		}

		event, err := CustomerDiscoveredEvent(c)
		if err != nil {
			return err
		}
		if err := r.outbox.InsertWithTx(ctx, tx, event); err != nil {
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
	row := r.db.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) GetByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", phone, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// List returns one page of customers matching f, newest first, and the total
// number of matches.
func (r *CustomerRepository) List(ctx context.Context, f models.CustomerFilter) ([]models.Customer, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(phone ILIKE $%d OR source_title ILIKE $%d OR seller ILIKE $%d)", n, n, n))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count customers: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM customers%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		customerColumns, where, len(args)-1, len(args))

	rows, err := r.db.pool.Query(ctx, query, args...)
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
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM customers`,
		models.ContactStatusContacted, models.ContactStatusPending, models.ContactStatusFailed,
	).Scan(&s.Total, &s.Contacted, &s.Pending, &s.Failed)
	if err != nil {
		return s, fmt.Errorf("failed to get customer stats: %w", err)
	}
	return s, nil
}

// UpdateContact records a contact attempt and queues its outbox event in the
// same transaction.
func (r *CustomerRepository) UpdateContact(ctx context.Context, id int64, u models.ContactUpdate) error {
	if !u.Status.Valid() {
		return fmt.Errorf("invalid contact status %q", u.Status)
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var contactedAt *time.Time
		if u.Status == models.ContactStatusContacted {
			contactedAt = &u.At
		}

		query := `
			UPDATE customers SET
				status = $1,
				notes = CASE WHEN $2::text = '' THEN notes ELSE $2::text END,
				whatsapp_status = CASE WHEN $3::text = '' THEN whatsapp_status ELSE $3::text END,
				whatsapp_account_id = COALESCE($4::bigint, whatsapp_account_id),
				contacted_at = COALESCE($5::timestamptz, contacted_at),
				updated_at = $6
			WHERE id = $7
			RETURNING ` + customerColumns

		c, err := scanCustomer(tx.QueryRow(ctx, query,
			u.Status, u.Notes, u.WhatsAppStatus, u.AccountID, contactedAt, u.At, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("customer %d: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to update customer: %w", err)
		}

		event, err := ContactEvent(c, u)
		if err != nil || event == nil {
			return err
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

// ListUncontacted returns the oldest pending customers first.
func (r *CustomerRepository) ListUncontacted(ctx context.Context, limit int) ([]models.Customer, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2`,
		models.ContactStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncontacted customers: %w", err)
	}
	defer rows.Close()

	return collectCustomers(rows)
}

func (r *CustomerRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM customers`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete customers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	c := &models.Customer{}
	err := row.Scan(
		&c.ID, &c.Phone, &c.Status, &c.Notes, &c.SourceURL, &c.SourceTitle, &c.Seller, &c.Category,
		&c.WhatsAppStatus, &c.WhatsAppAccountID, &c.ContactedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func collectCustomers(rows pgx.Rows) ([]models.Customer, error) {
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
