package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("account not found")

const columns = `user_id, email, plan_type, photos_limit, photos_used, subscription_status, cancellation_date, created_at, updated_at`

// Repository reads and writes both account tables.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var a Account
	var plan, status sql.NullString
	var canceled sql.NullTime
	if err := row.Scan(&a.UserID, &a.Email, &plan, &a.PhotosLimit, &a.PhotosUsed, &status, &canceled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.PlanType = PlanType(plan.String)
	a.SubscriptionStatus = Status(status.String)
	if canceled.Valid {
		t := canceled.Time
		a.CancellationDate = &t
	}
	return &a, nil
}

func nullPlan(p PlanType) sql.NullString {
	return sql.NullString{String: string(p), Valid: p != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Get returns the copy of userID stored in t, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, t Table, userID string) (*Account, error) {
	if !t.valid() {
		return nil, fmt.Errorf("unknown table %q", t)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM `+string(t)+` WHERE user_id = ? LIMIT 1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetByEmail returns the copy stored in t for email, or ErrNotFound.
func (r *Repository) GetByEmail(ctx context.Context, t Table, email string) (*Account, error) {
	if !t.valid() {
		return nil, fmt.Errorf("unknown table %q", t)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM `+string(t)+` WHERE email = ? ORDER BY created_at ASC LIMIT 1`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListUserIDs returns every user id in t, in id order.
func (r *Repository) ListUserIDs(ctx context.Context, t Table) ([]string, error) {
	if !t.valid() {
		return nil, fmt.Errorf("unknown table %q", t)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM `+string(t)+` ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Insert creates a copy in t. Zero timestamps are stamped with now.
func (r *Repository) Insert(ctx context.Context, t Table, a *Account) error {
	if !t.valid() {
		return fmt.Errorf("unknown table %q", t)
	}
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO `+string(t)+` (`+columns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.UserID, a.Email, nullPlan(a.PlanType), a.PhotosLimit, a.PhotosUsed, string(a.SubscriptionStatus),
		nullTime(a.CancellationDate), a.CreatedAt, a.UpdatedAt)
	return err
}

// Update overwrites the mutable fields of the copy in t. It returns
// ErrNotFound when no row of userID exists in t; the connection reports
// matched rather than changed rows (conn.DSN sets ClientFoundRows).
func (r *Repository) Update(ctx context.Context, t Table, a *Account) error {
	if !t.valid() {
		return fmt.Errorf("unknown table %q", t)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = r.now()
	}
	res, err := r.db.ExecContext(ctx, `UPDATE `+string(t)+` SET email = ?, plan_type = ?, photos_limit = ?, photos_used = ?, subscription_status = ?, cancellation_date = ?, updated_at = ? WHERE user_id = ?`,
		a.Email, nullPlan(a.PlanType), a.PhotosLimit, a.PhotosUsed, string(a.SubscriptionStatus),
		nullTime(a.CancellationDate), a.UpdatedAt, a.UserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes both copies of userID and reports how many rows went away.
func (r *Repository) Delete(ctx context.Context, userID string) (int64, error) {
	var total int64
	for _, t := range []Table{Projection, Primary} {
		res, err := r.db.ExecContext(ctx, `DELETE FROM `+string(t)+` WHERE user_id = ?`, userID)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	if total == 0 {
		return 0, ErrNotFound
	}
	return total, nil
}

// Ensure returns the primary copy of userID, creating a free account in both
// tables when none exists. created reports whether rows were inserted.
func (r *Repository) Ensure(ctx context.Context, userID, email string) (*Account, bool, error) {
	a, err := r.Get(ctx, Primary, userID)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	a = NewFree(userID, email, r.now())
	if err := r.Insert(ctx, Primary, a); err != nil {
		return nil, false, err
	}
	if err := r.Insert(ctx, Projection, a.Clone()); err != nil {
		return a, true, fmt.Errorf("primary created but projection insert failed: %w", err)
	}
	return a, true, nil
}
