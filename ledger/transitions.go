package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"staging-backend/accounts"
	"staging-backend/metrics"
)

type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout_completed"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	EventAdminReset           EventKind = "admin_reset"
)

// Event is a plan-level change coming from payments or an operator.
type Event struct {
	Kind   EventKind         `json:"kind"`
	UserID string            `json:"userId"`
	Plan   accounts.PlanType `json:"plan,omitempty"`
}

// CancelPolicy decides what a cancellation does to the plan.
type CancelPolicy string

const (
	// CancelKeep leaves the paid plan in place until the period lapses.
	CancelKeep CancelPolicy = "keep"
	// CancelTrial drops the plan to trial right away.
	CancelTrial CancelPolicy = "trial"
	// CancelRevoke drops to trial and zeroes the remaining credits.
	CancelRevoke CancelPolicy = "revoke"
)

func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch p := CancelPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CancelKeep, nil
	case CancelKeep, CancelTrial, CancelRevoke:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cancel policy %q (want keep, trial or revoke)", s)
	}
}

// PlanCredits is the credit grant per purchased plan.
type PlanCredits map[accounts.PlanType]int

// NewPlanCredits validates a plan-name keyed table, as read from configuration.
func NewPlanCredits(raw map[string]int) (PlanCredits, error) {
	out := PlanCredits{}
	for name, n := range raw {
		p, ok := accounts.ParsePlan(name)
		if !ok {
			return nil, fmt.Errorf("unknown plan %q in credit table", name)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative credit grant for plan %q", name)
		}
		out[p] = n
	}
	return out, nil
}

// Transitions maps plan events onto credit changes made through the Mutator.
type Transitions struct {
	mutator *Mutator
	credits PlanCredits
	policy  CancelPolicy
	now     func() time.Time
	metrics *metrics.LedgerMetrics
}

func NewTransitions(m *Mutator, credits PlanCredits, policy CancelPolicy) *Transitions {
	if policy == "" {
		policy = CancelKeep
	}
	return &Transitions{mutator: m, credits: credits, policy: policy, now: time.Now, metrics: metrics.Ledger()}
}

// Apply dispatches e to the matching transition.
func (t *Transitions) Apply(ctx context.Context, e Event) (*accounts.Account, error) {
	switch e.Kind {
	case EventCheckoutCompleted:
		return t.CheckoutCompleted(ctx, e.UserID, e.Plan)
	case EventSubscriptionCanceled:
		return t.SubscriptionCanceled(ctx, e.UserID)
	case EventAdminReset:
		return t.AdminReset(ctx, e.UserID)
	default:
		return nil, invalid("transition", e.UserID, "unknown event kind %q", e.Kind)
	}
}

// CheckoutCompleted activates plan and adds its credit grant to the limit.
func (t *Transitions) CheckoutCompleted(ctx context.Context, userID string, plan accounts.PlanType) (*accounts.Account, error) {
	const op = "checkout_completed"
	p, ok := accounts.ParsePlan(string(plan))
	if !ok || p == accounts.PlanFree {
		return nil, invalid(op, userID, "plan %q cannot be purchased", plan)
	}
	grant, ok := t.credits[p]
	if !ok {
		return nil, invalid(op, userID, "no credit grant configured for plan %q", p)
	}
	a, err := t.mutator.Apply(ctx, userID, op, func(a *accounts.Account) error {
		a.PlanType = p
		a.SubscriptionStatus = accounts.StatusActive
		a.CancellationDate = nil
		a.PhotosLimit += grant
		return nil
	})
	if err == nil {
		t.metrics.RecordTransition(op)
	}
	return a, err
}

// SubscriptionCanceled marks the subscription canceled as of now and applies
// the configured CancelPolicy to the plan.
func (t *Transitions) SubscriptionCanceled(ctx context.Context, userID string) (*accounts.Account, error) {
	const op = "subscription_canceled"
	now := t.now()
	a, err := t.mutator.Apply(ctx, userID, op, func(a *accounts.Account) error {
		a.SubscriptionStatus = accounts.StatusCanceled
		a.CancellationDate = &now
		switch t.policy {
		case CancelTrial:
			a.PlanType = accounts.PlanTrial
		case CancelRevoke:
			a.PlanType = accounts.PlanTrial
			if a.PhotosLimit > a.PhotosUsed {
				a.PhotosLimit = a.PhotosUsed
			}
		}
		return nil
	})
	if err == nil {
		t.metrics.RecordTransition(op)
	}
	return a, err
}

// AdminReset forces the free plan with its default allowance, whatever the
// prior state.
func (t *Transitions) AdminReset(ctx context.Context, userID string) (*accounts.Account, error) {
	const op = "admin_reset"
	a, err := t.mutator.Apply(ctx, userID, op, func(a *accounts.Account) error {
		a.PlanType = accounts.PlanFree
		a.SubscriptionStatus = accounts.StatusCanceled
		a.PhotosLimit = accounts.FreeCredits
		return nil
	})
	if err == nil {
		t.metrics.RecordTransition(op)
	}
	return a, err
}
