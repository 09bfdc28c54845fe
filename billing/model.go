package billing

import (
	"time"

	"staging-backend/accounts"
	"staging-backend/ledger"
)

// Subscription is the local mirror of a Stripe subscription.
type Subscription struct {
	SubscriptionID   string            `json:"stripe_subscription_id"`
	UserID           string            `json:"user_id"`
	CustomerID       string            `json:"stripe_customer_id"`
	PlanType         accounts.PlanType `json:"plan_type"`
	Status           string            `json:"status"`
	CurrentPeriodEnd *time.Time        `json:"current_period_end"`
	CanceledAt       *time.Time        `json:"canceled_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Live reports whether the Stripe status still entitles the user to the plan.
func (s *Subscription) Live() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// External converts the row to the ledger's view. A missing period end is
// reported as the zero time, which the checker treats as already elapsed.
func (s *Subscription) External() *ledger.ExternalSubscription {
	ext := &ledger.ExternalSubscription{
		UserID:         s.UserID,
		SubscriptionID: s.SubscriptionID,
		Status:         s.Status,
	}
	if s.CurrentPeriodEnd != nil {
		ext.CurrentPeriodEnd = *s.CurrentPeriodEnd
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		ext.CanceledAt = &t
	}
	return ext
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
