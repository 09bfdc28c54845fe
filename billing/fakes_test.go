package billing

import (
	"context"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v78"

	"staging-backend/accounts"
	"staging-backend/ledger"
)

type memMirror struct {
	mu      sync.Mutex
	rows    map[string]*Subscription
	events  map[string]string
	failGet error
}

func newMemMirror() *memMirror {
	return &memMirror{rows: map[string]*Subscription{}, events: map[string]string{}}
}

func (m *memMirror) Upsert(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	if old, ok := m.rows[s.SubscriptionID]; ok {
		if cp.CustomerID == "" {
			cp.CustomerID = old.CustomerID
		}
		if cp.PlanType == "" {
			cp.PlanType = old.PlanType
		}
	}
	m.rows[s.SubscriptionID] = &cp
	return nil
}

func (m *memMirror) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memMirror) Latest(_ context.Context, userID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	var latest *Subscription
	for _, s := range m.rows {
		if s.UserID == userID && (latest == nil || ranksBefore(s, latest)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// ranksBefore mirrors the ORDER BY of Repository.Latest.
func ranksBefore(a, b *Subscription) bool {
	if a.Live() != b.Live() {
		return a.Live()
	}
	ae, be := a.CurrentPeriodEnd, b.CurrentPeriodEnd
	switch {
	case ae != nil && be == nil:
		return true
	case ae == nil && be != nil:
		return false
	case ae != nil && !ae.Equal(*be):
		return ae.After(*be)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func (m *memMirror) HasOtherLive(_ context.Context, userID, exceptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.rows {
		if id != exceptID && s.UserID == userID && s.Live() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memMirror) ClaimEvent(_ context.Context, id, typ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; ok {
		return false, nil
	}
	m.events[id] = typ
	return true, nil
}

func (m *memMirror) ReleaseEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}

func (m *memMirror) claimed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[id]
	return ok
}

type fakeLedger struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
	delay  time.Duration
}

func (f *fakeLedger) Apply(_ context.Context, e ledger.Event) (*accounts.Account, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	if f.err != nil {
		return nil, f.err
	}
	return &accounts.Account{UserID: e.UserID, PlanType: e.Plan}, nil
}

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = p
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type fakeSubs struct {
	sub   *stripe.Subscription
	err   error
	calls int
}

func (f *fakeSubs) Get(id string, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.sub
	cp.ID = id
	return &cp, nil
}

var testNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestService(m Mirror, l Transitioner) (*StripeService, *fakeSessions) {
	sessions := &fakeSessions{}
	return &StripeService{
		mirror:     m,
		ledger:     l,
		sessions:   sessions,
		subs:       &fakeSubs{sub: &stripe.Subscription{Status: stripe.SubscriptionStatusActive}},
		secretKey:  "sk_test_0123456789abcdef",
		successURL: "https://app.example.com/billing/success",
		cancelURL:  "https://app.example.com/billing/cancel",
		prices: map[accounts.PlanType]string{
			accounts.PlanStandard: "price_standard",
			accounts.PlanAgency:   "price_agency",
		},
		now: func() time.Time { return testNow },
	}, sessions
}
