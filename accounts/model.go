package accounts

import (
	"strings"
	"time"
)

// Table names one of the two stored copies of an account.
type Table string

const (
	// Primary (user_usage) is authoritative.
	Primary Table = "user_usage"
	// Projection (consolidated_users) is the denormalized copy kept in step with Primary.
	Projection Table = "consolidated_users"
)

func (t Table) valid() bool { return t == Primary || t == Projection }

type PlanType string

const (
	PlanFree     PlanType = "free"
	PlanTrial    PlanType = "trial"
	PlanStandard PlanType = "standard"
	PlanAgency   PlanType = "agency"
)

// ParsePlan normalizes a plan name; ok is false for unknown plans.
func ParsePlan(s string) (PlanType, bool) {
	p := PlanType(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlanFree, PlanTrial, PlanStandard, PlanAgency:
		return p, true
	}
	return "", false
}

// Paid reports whether the plan is a purchasable tier.
func (p PlanType) Paid() bool { return p == PlanStandard || p == PlanAgency }

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
)

// FreeCredits is the allowance of a new or downgraded account.
const FreeCredits = 3

// Account is one stored copy of a user's plan and usage.
type Account struct {
	UserID             string     `json:"user_id"`
	Email              string     `json:"email"`
	PlanType           PlanType   `json:"plan_type"`
	PhotosLimit        int        `json:"photos_limit"`
	PhotosUsed         int        `json:"photos_used"`
	SubscriptionStatus Status     `json:"subscription_status"`
	CancellationDate   *time.Time `json:"cancellation_date"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Remaining can be negative on legacy rows.
func (a *Account) Remaining() int { return a.PhotosLimit - a.PhotosUsed }

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.CancellationDate != nil {
		t := *a.CancellationDate
		cp.CancellationDate = &t
	}
	return &cp
}

// NewFree builds the record created on first sign-in.
func NewFree(userID, email string, now time.Time) *Account {
	return &Account{
		UserID:             userID,
		Email:              email,
		PlanType:           PlanFree,
		PhotosLimit:        FreeCredits,
		SubscriptionStatus: StatusInactive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
