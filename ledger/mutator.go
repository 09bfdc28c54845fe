package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staging-backend/accounts"
	"staging-backend/logging"
	"staging-backend/metrics"
)

// CreditRequest addresses a user by UserID or, when empty, by Email.
// An empty PlanType keeps the current plan.
type CreditRequest struct {
	UserID   string            `json:"userId"`
	Email    string            `json:"email"`
	Credits  int               `json:"credits"`
	PlanType accounts.PlanType `json:"planType"`
}

// Mutator applies credit changes to the primary copy and then the projection.
// The two writes are not atomic; a crash in between leaves the copies
// diverged until the Reconciler runs.
type Mutator struct {
	store   Store
	now     func() time.Time
	metrics *metrics.LedgerMetrics
}

func NewMutator(store Store) *Mutator {
	return &Mutator{store: store, now: time.Now, metrics: metrics.Ledger()}
}

// Grant adds req.Credits to the current limit.
func (m *Mutator) Grant(ctx context.Context, req CreditRequest) (*accounts.Account, error) {
	return m.credit(ctx, "grant", req, func(a *accounts.Account) { a.PhotosLimit += req.Credits })
}

// SetLimit replaces the current limit with req.Credits.
func (m *Mutator) SetLimit(ctx context.Context, req CreditRequest) (*accounts.Account, error) {
	return m.credit(ctx, "set_limit", req, func(a *accounts.Account) { a.PhotosLimit = req.Credits })
}

func (m *Mutator) credit(ctx context.Context, op string, req CreditRequest, change func(*accounts.Account)) (*accounts.Account, error) {
	userID := strings.TrimSpace(req.UserID)
	if req.Credits <= 0 {
		err := invalid(op, userID, "credits must be a positive integer, got %d", req.Credits)
		m.metrics.RecordMutation(op, err)
		return nil, err
	}
	var plan accounts.PlanType
	if req.PlanType != "" {
		p, ok := accounts.ParsePlan(string(req.PlanType))
		if !ok {
			err := invalid(op, userID, "unknown plan type %q", req.PlanType)
			m.metrics.RecordMutation(op, err)
			return nil, err
		}
		plan = p
	}
	userID, err := m.resolve(ctx, op, userID, req.Email)
	if err != nil {
		m.metrics.RecordMutation(op, err)
		return nil, err
	}
	return m.Apply(ctx, userID, op, func(a *accounts.Account) error {
		change(a)
		if plan != "" {
			a.PlanType = plan
		}
		return nil
	})
}

func (m *Mutator) resolve(ctx context.Context, op, userID, email string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", invalid(op, "", "userId or email is required")
	}
	a, err := m.store.GetByEmail(ctx, accounts.Primary, email)
	if errors.Is(err, accounts.ErrNotFound) {
		return "", notFound(op, email, err)
	}
	if err != nil {
		return "", upstream(op, email, err)
	}
	return a.UserID, nil
}

// Consume records n used credits, refusing when fewer than n remain.
func (m *Mutator) Consume(ctx context.Context, userID string, n int) (*accounts.Account, error) {
	if n <= 0 {
		err := invalid("consume", userID, "amount must be positive, got %d", n)
		m.metrics.RecordMutation("consume", err)
		return nil, err
	}
	return m.Apply(ctx, userID, "consume", func(a *accounts.Account) error {
		if a.Remaining() < n {
			return &Error{Kind: KindValidation, Op: "consume", UserID: userID,
				Err: fmt.Errorf("%w: %d remaining, %d requested", ErrInsufficientCredits, a.Remaining(), n)}
		}
		a.PhotosUsed += n
		return nil
	})
}

// ResetUsage starts a new period: used credits go back to zero.
func (m *Mutator) ResetUsage(ctx context.Context, userID string) (*accounts.Account, error) {
	return m.Apply(ctx, userID, "reset_usage", func(a *accounts.Account) error {
		a.PhotosUsed = 0
		return nil
	})
}

// Apply reads the primary copy of userID, lets fn change it, and writes the
// result to both copies. An error from fn aborts before anything is written.
func (m *Mutator) Apply(ctx context.Context, userID, op string, fn func(*accounts.Account) error) (acct *accounts.Account, err error) {
	defer func() { m.metrics.RecordMutation(op, err) }()
	if strings.TrimSpace(userID) == "" {
		return nil, invalid(op, "", "userId is required")
	}
	cur, err := m.store.Get(ctx, accounts.Primary, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, notFound(op, userID, err)
	}
	if err != nil {
		return nil, upstream(op, userID, err)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()

	if err := m.store.Update(ctx, accounts.Primary, next); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, notFound(op, userID, err)
		}
		return nil, upstream(op, userID, err)
	}
	if err := m.writeProjection(ctx, next); err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("op", op).Str("user_id", userID).
			Msg("primary written but projection failed; copies diverged until reconcile")
		return next, upstream(op, userID, fmt.Errorf("projection write: %w", err))
	}
	logging.FromContext(ctx).Info().
		Str("op", op).Str("user_id", userID).
		Str("plan", string(next.PlanType)).
		Int("limit_before", cur.PhotosLimit).Int("limit_after", next.PhotosLimit).
		Int("used", next.PhotosUsed).
		Msg("credits updated")
	return next, nil
}

func (m *Mutator) writeProjection(ctx context.Context, a *accounts.Account) error {
	_, err := m.store.Get(ctx, accounts.Projection, a.UserID)
	if errors.Is(err, accounts.ErrNotFound) {
		return m.store.Insert(ctx, accounts.Projection, a.Clone())
	}
	if err != nil {
		return err
	}
	err = m.store.Update(ctx, accounts.Projection, a.Clone())
	if errors.Is(err, accounts.ErrNotFound) {
		return m.store.Insert(ctx, accounts.Projection, a.Clone())
	}
	return err
}
