package billing

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v78"

	"staging-backend/ledger"
	"staging-backend/logging"
)

// Source serves the subscription checker from the local mirror, refreshing
// each row from the Stripe API when a client is configured.
type Source struct {
	mirror Mirror
	subs   subscriptionGetter
}

// NewSource builds a Source. A nil svc disables the Stripe refresh.
func NewSource(mirror Mirror, svc *StripeService) *Source {
	s := &Source{mirror: mirror}
	if svc != nil {
		s.subs = svc.subs
	}
	return s
}

// LatestSubscription implements ledger.SubscriptionSource. A mirror that
// cannot be read is reported as ledger.ErrSourceUnavailable; a failed Stripe
// refresh falls back to the mirrored values.
func (s *Source) LatestSubscription(ctx context.Context, userID string) (*ledger.ExternalSubscription, error) {
	row, err := s.mirror.Latest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrSourceUnavailable, err)
	}
	if row == nil {
		return nil, nil
	}
	if s.subs != nil {
		s.refresh(ctx, row)
	}
	return row.External(), nil
}

func (s *Source) refresh(ctx context.Context, row *Subscription) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	fresh, err := s.subs.Get(row.SubscriptionID, params)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("subscription_id", row.SubscriptionID).
			Msg("stripe refresh failed; using mirrored subscription")
		return
	}
	row.Status = string(fresh.Status)
	if t := unixTime(fresh.CurrentPeriodEnd); t != nil {
		row.CurrentPeriodEnd = t
	}
	if t := unixTime(fresh.CanceledAt); t != nil {
		row.CanceledAt = t
	}
	if fresh.Customer != nil && fresh.Customer.ID != "" {
		row.CustomerID = fresh.Customer.ID
	}
	row.UpdatedAt = time.Now().UTC()
	if err := s.mirror.Upsert(ctx, row); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("subscription_id", row.SubscriptionID).Msg("mirror refresh write failed")
	}
}
