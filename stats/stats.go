// Package stats aggregates ledger and subscription figures for the operator
// dashboard.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"staging-backend/logging"
)

type Summary struct {
	Users         UserStats          `json:"users"`
	Credits       CreditStats        `json:"credits"`
	Plans         []PlanStats        `json:"plans"`
	Subscriptions []SubscriptionStat `json:"subscriptions"`
	Ledger        LedgerStats        `json:"ledger"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

type UserStats struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	NewThisMonth  int     `json:"new_this_month"`
	GrowthPercent float64 `json:"growth_percent"`
}

type CreditStats struct {
	Granted     int     `json:"granted"`
	Used        int     `json:"used"`
	Utilization float64 `json:"utilization"`
}

type PlanStats struct {
	Plan       string  `json:"plan"`
	Users      int     `json:"users"`
	Percentage float64 `json:"percentage"`
	Used       int     `json:"used"`
}

type SubscriptionStat struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// LedgerStats counts users whose projection copy disagrees with the primary.
type LedgerStats struct {
	MissingProjection int `json:"missing_projection"`
	Diverged          int `json:"diverged"`
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Summary runs every aggregate query. The first failing query aborts.
func (r *Repository) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{GeneratedAt: r.now().UTC()}
	if err := r.userStats(ctx, &s.Users); err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	if err := r.creditStats(ctx, &s.Credits); err != nil {
		return nil, fmt.Errorf("credit stats: %w", err)
	}
	plans, err := r.planStats(ctx, s.Users.Total)
	if err != nil {
		return nil, fmt.Errorf("plan stats: %w", err)
	}
	s.Plans = plans
	subs, err := r.subscriptionStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscription stats: %w", err)
	}
	s.Subscriptions = subs
	if err := r.ledgerStats(ctx, &s.Ledger); err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}

	logging.FromContext(ctx).Info().
		Int("users", s.Users.Total).Int("active", s.Users.Active).
		Int("credits_used", s.Credits.Used).Int("diverged", s.Ledger.Diverged).
		Msg("[ADMIN_STATS] summary built")
	return s, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (r *Repository) userStats(ctx context.Context, u *UserStats) error {
	now := r.now().UTC()
	thisMonth := monthStart(now)
	lastMonth := thisMonth.AddDate(0, -1, 0)

	var newLastMonth int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(subscription_status = 'active'), 0),
			COALESCE(SUM(created_at >= ?), 0),
			COALESCE(SUM(created_at >= ? AND created_at < ?), 0)
		FROM user_usage`, thisMonth, lastMonth, thisMonth).
		Scan(&u.Total, &u.Active, &u.NewThisMonth, &newLastMonth)
	if err != nil {
		return err
	}
	if newLastMonth > 0 {
		u.GrowthPercent = (float64(u.NewThisMonth) - float64(newLastMonth)) / float64(newLastMonth) * 100
	} else if u.NewThisMonth > 0 {
		u.GrowthPercent = 100
	}
	return nil
}

func (r *Repository) creditStats(ctx context.Context, c *CreditStats) error {
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(photos_limit), 0), COALESCE(SUM(photos_used), 0) FROM user_usage`).
		Scan(&c.Granted, &c.Used)
	if err != nil {
		return err
	}
	if c.Granted > 0 {
		c.Utilization = float64(c.Used) / float64(c.Granted) * 100
	}
	return nil
}

func (r *Repository) planStats(ctx context.Context, total int) ([]PlanStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(plan_type, ''), COUNT(*), COALESCE(SUM(photos_used), 0)
		FROM user_usage
		GROUP BY plan_type
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanStats
	for rows.Next() {
		var p PlanStats
		if err := rows.Scan(&p.Plan, &p.Users, &p.Used); err != nil {
			return nil, err
		}
		if p.Plan == "" {
			p.Plan = "unset"
		}
		if total > 0 {
			p.Percentage = float64(p.Users) / float64(total) * 100
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) subscriptionStats(ctx context.Context) ([]SubscriptionStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM subscriptions GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionStat
	for rows.Next() {
		var s SubscriptionStat
		if err := rows.Scan(&s.Status, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ledgerStats(ctx context.Context, l *LedgerStats) error {
	return r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(b.user_id IS NULL), 0),
			COALESCE(SUM(b.user_id IS NOT NULL AND (
				a.photos_limit <> b.photos_limit OR
				a.photos_used <> b.photos_used OR
				NOT (a.plan_type <=> b.plan_type))), 0)
		FROM user_usage a
		LEFT JOIN consolidated_users b ON b.user_id = a.user_id`).
		Scan(&l.MissingProjection, &l.Diverged)
}
