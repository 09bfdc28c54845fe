package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"staging-backend/accounts"
)

var ErrNotFound = errors.New("subscription not found")

// Mirror is the storage the Stripe integration needs. *Repository
// implements it over MySQL.
type Mirror interface {
	Upsert(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subscriptionID string) (*Subscription, error)
	Latest(ctx context.Context, userID string) (*Subscription, error)
	HasOtherLive(ctx context.Context, userID, exceptID string) (bool, error)
	ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `stripe_subscription_id, user_id, stripe_customer_id, plan_type, status, current_period_end, canceled_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	var s Subscription
	var plan string
	var periodEnd, canceled sql.NullTime
	if err := row.Scan(&s.SubscriptionID, &s.UserID, &s.CustomerID, &plan, &s.Status, &periodEnd, &canceled, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.PlanType = accounts.PlanType(plan)
	if periodEnd.Valid {
		t := periodEnd.Time
		s.CurrentPeriodEnd = &t
	}
	if canceled.Valid {
		t := canceled.Time
		s.CanceledAt = &t
	}
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Upsert inserts or refreshes a mirror row. Empty customer and plan values
// and nil timestamps keep what is already stored.
func (r *Repository) Upsert(ctx context.Context, s *Subscription) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
			user_id = VALUES(user_id),
			stripe_customer_id = IF(VALUES(stripe_customer_id) = '', stripe_customer_id, VALUES(stripe_customer_id)),
			plan_type = IF(VALUES(plan_type) = '', plan_type, VALUES(plan_type)),
			status = VALUES(status),
			current_period_end = COALESCE(VALUES(current_period_end), current_period_end),
			canceled_at = COALESCE(VALUES(canceled_at), canceled_at),
			updated_at = VALUES(updated_at)`,
		s.SubscriptionID, s.UserID, s.CustomerID, string(s.PlanType), s.Status,
		nullTime(s.CurrentPeriodEnd), nullTime(s.CanceledAt), s.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = ? LIMIT 1`, subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Latest returns the subscription that decides userID's entitlement: a live
// one when there is any, otherwise the one ending last. It returns nil when
// the user never subscribed.
func (r *Repository) Latest(ctx context.Context, userID string) (*Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?
		ORDER BY status IN ('active','trialing') DESC, current_period_end DESC, updated_at DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// HasOtherLive reports whether userID holds a live subscription other than exceptID.
func (r *Repository) HasOtherLive(ctx context.Context, userID, exceptID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM subscriptions
		WHERE user_id = ? AND stripe_subscription_id <> ? AND status IN ('active','trialing')`, userID, exceptID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ClaimEvent records eventID and reports whether this call inserted it. A
// false result means another delivery already claimed the event.
func (r *Repository) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO stripe_events (event_id, event_type) VALUES (?, ?)`, eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseEvent drops a claim so that a redelivery can process the event again.
func (r *Repository) ReleaseEvent(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stripe_events WHERE event_id = ?`, eventID)
	return err
}
