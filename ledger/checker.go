package ledger

import (
	"context"
	"errors"
	"time"

	"staging-backend/accounts"
	"staging-backend/logging"
	"staging-backend/metrics"
)

type CheckOutcome string

const (
	OutcomeValid          CheckOutcome = "valid"
	OutcomeDowngraded     CheckOutcome = "downgraded"
	OutcomeMarkedCanceled CheckOutcome = "marked_canceled"
	OutcomeUnchanged      CheckOutcome = "unchanged"
)

// Which data the decision was based on.
const (
	PathSubscription     = "subscription"
	PathCancellationDate = "cancellation_date"
)

const stripeStatusCanceled = "canceled"

type CheckResult struct {
	UserID  string       `json:"userId"`
	Outcome CheckOutcome `json:"outcome,omitempty"`
	Path    string       `json:"path,omitempty"`
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	// Account is the primary copy after the check.
	Account *accounts.Account `json:"account,omitempty"`
}

type CheckReport struct {
	Results    []CheckResult `json:"results"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Downgraded int           `json:"downgraded"`
}

// Checker downgrades accounts whose subscription has lapsed.
type Checker struct {
	mutator *Mutator
	store   Store
	source  SubscriptionSource
	now     func() time.Time
	metrics *metrics.LedgerMetrics
}

// NewChecker builds a Checker. A nil source always uses the cancellation-date
// fallback.
func NewChecker(m *Mutator, store Store, source SubscriptionSource) *Checker {
	return &Checker{mutator: m, store: store, source: source, now: time.Now, metrics: metrics.Ledger()}
}

// Check inspects one user. With a subscription source, a canceled
// subscription whose period has ended downgrades the account to the free
// plan. Without one, an elapsed cancellation_date only flips the status to
// canceled and leaves credits alone. Re-running on a settled account is a
// no-op.
func (c *Checker) Check(ctx context.Context, userID string) (*CheckResult, error) {
	const op = "check_subscription"
	res := &CheckResult{UserID: userID}
	acct, err := c.store.Get(ctx, accounts.Primary, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		return c.fail(res, notFound(op, userID, err))
	}
	if err != nil {
		return c.fail(res, upstream(op, userID, err))
	}
	res.Account = acct

	if c.source != nil {
		sub, err := c.source.LatestSubscription(ctx, userID)
		switch {
		case errors.Is(err, ErrSourceUnavailable):
			logging.FromContext(ctx).Debug().Str("user_id", userID).Msg("subscription source unavailable; using cancellation date")
		case err != nil:
			return c.fail(res, upstream(op, userID, err))
		default:
			res.Path = PathSubscription
			return c.checkSubscription(ctx, res, acct, sub)
		}
	}
	res.Path = PathCancellationDate
	return c.checkCancellationDate(ctx, res, acct)
}

func (c *Checker) checkSubscription(ctx context.Context, res *CheckResult, acct *accounts.Account, sub *ExternalSubscription) (*CheckResult, error) {
	if sub == nil || sub.Status != stripeStatusCanceled || !sub.CurrentPeriodEnd.Before(c.now()) {
		return c.done(res, OutcomeValid)
	}
	if downgraded(acct) {
		return c.done(res, OutcomeUnchanged)
	}
	a, err := c.mutator.Apply(ctx, acct.UserID, "downgrade", func(a *accounts.Account) error {
		a.PlanType = accounts.PlanFree
		a.PhotosLimit = accounts.FreeCredits
		a.SubscriptionStatus = accounts.StatusInactive
		return nil
	})
	if err != nil {
		return c.fail(res, err)
	}
	res.Account = a
	logging.FromContext(ctx).Info().Str("user_id", acct.UserID).Str("subscription_id", sub.SubscriptionID).
		Time("period_end", sub.CurrentPeriodEnd).Msg("lapsed subscription downgraded to free")
	return c.done(res, OutcomeDowngraded)
}

func (c *Checker) checkCancellationDate(ctx context.Context, res *CheckResult, acct *accounts.Account) (*CheckResult, error) {
	if acct.CancellationDate == nil || !acct.CancellationDate.Before(c.now()) {
		return c.done(res, OutcomeValid)
	}
	if acct.SubscriptionStatus == accounts.StatusCanceled {
		return c.done(res, OutcomeUnchanged)
	}
	a, err := c.mutator.Apply(ctx, acct.UserID, "mark_canceled", func(a *accounts.Account) error {
		a.SubscriptionStatus = accounts.StatusCanceled
		return nil
	})
	if err != nil {
		return c.fail(res, err)
	}
	res.Account = a
	return c.done(res, OutcomeMarkedCanceled)
}

func downgraded(a *accounts.Account) bool {
	return a.PlanType == accounts.PlanFree &&
		a.PhotosLimit == accounts.FreeCredits &&
		a.SubscriptionStatus == accounts.StatusInactive
}

func (c *Checker) done(res *CheckResult, outcome CheckOutcome) (*CheckResult, error) {
	res.Outcome = outcome
	res.Success = true
	c.metrics.RecordSubscriptionCheck(string(outcome))
	return res, nil
}

func (c *Checker) fail(res *CheckResult, err error) (*CheckResult, error) {
	res.Success = false
	res.Error = err.Error()
	c.metrics.RecordSubscriptionCheck("error")
	return res, err
}

// CheckAll runs Check for every account, sequentially and best effort.
func (c *Checker) CheckAll(ctx context.Context) (*CheckReport, error) {
	ids, err := c.store.ListUserIDs(ctx, accounts.Primary)
	if err != nil {
		return nil, upstream("check_subscriptions", "", err)
	}
	report := &CheckReport{Results: make([]CheckResult, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, CheckResult{UserID: id, Error: err.Error()})
			report.Total++
			report.Failed++
			continue
		}
		res, err := c.Check(ctx, id)
		if err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("user_id", id).Msg("subscription check failed")
		}
		report.Results = append(report.Results, *res)
		report.Total++
		if res.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		if res.Outcome == OutcomeDowngraded {
			report.Downgraded++
		}
	}
	if report.Failed > 0 {
		return report, &PartialBatchFailure{Failed: report.Failed, Total: report.Total, Report: report}
	}
	return report, nil
}
