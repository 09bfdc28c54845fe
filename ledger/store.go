package ledger

import (
	"context"
	"errors"
	"time"

	"staging-backend/accounts"
)

// Store is the table-level access the ledger needs. *accounts.Repository
// satisfies it; missing rows are reported as accounts.ErrNotFound.
type Store interface {
	Get(ctx context.Context, t accounts.Table, userID string) (*accounts.Account, error)
	GetByEmail(ctx context.Context, t accounts.Table, email string) (*accounts.Account, error)
	ListUserIDs(ctx context.Context, t accounts.Table) ([]string, error)
	Insert(ctx context.Context, t accounts.Table, a *accounts.Account) error
	Update(ctx context.Context, t accounts.Table, a *accounts.Account) error
}

// ExternalSubscription is the payments provider's view of a subscription.
type ExternalSubscription struct {
	UserID           string
	SubscriptionID   string
	Status           string
	CurrentPeriodEnd time.Time
	CanceledAt       *time.Time
}

// ErrSourceUnavailable tells the Checker to fall back to the account's own
// cancellation date.
var ErrSourceUnavailable = errors.New("subscription source unavailable")

// SubscriptionSource looks up the latest external subscription of a user.
// It returns (nil, nil) when the user has none.
type SubscriptionSource interface {
	LatestSubscription(ctx context.Context, userID string) (*ExternalSubscription, error)
}
