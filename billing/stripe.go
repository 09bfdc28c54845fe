package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"staging-backend/accounts"
	"staging-backend/config"
	"staging-backend/ledger"
	"staging-backend/logging"
)

var (
	ErrNotConfigured      = errors.New("stripe is not configured")
	ErrInvalidAPIKey      = errors.New("stripe_invalid_api_key")
	ErrPlanNotPurchasable = errors.New("plan cannot be purchased")
	ErrInvalidSignature   = errors.New("invalid stripe signature")
	ErrBadPayload         = errors.New("malformed webhook payload")
)

// Transitioner applies plan events to the credit ledger.
type Transitioner interface {
	Apply(ctx context.Context, e ledger.Event) (*accounts.Account, error)
}

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type subscriptionGetter interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// StripeService creates checkout sessions and turns webhook events into plan
// transitions.
type StripeService struct {
	mirror        Mirror
	ledger        Transitioner
	sessions      sessionCreator
	subs          subscriptionGetter
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	prices        map[accounts.PlanType]string
	now           func() time.Time
}

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripe returns a configured service, or nil when STRIPE_SECRET_KEY is unset.
func NewStripe(cfg *config.Config, mirror Mirror, tr Transitioner) *StripeService {
	if cfg.StripeSecretKey == "" {
		return nil
	}
	sc := &client.API{}
	sc.Init(cfg.StripeSecretKey, nil)
	prices := map[accounts.PlanType]string{}
	for name, id := range cfg.StripePrices() {
		if p, ok := accounts.ParsePlan(name); ok {
			prices[p] = id
		}
	}
	return &StripeService{
		mirror:        mirror,
		ledger:        tr,
		sessions:      sc.CheckoutSessions,
		subs:          sc.Subscriptions,
		secretKey:     cfg.StripeSecretKey,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.StripeSuccessURL,
		cancelURL:     cfg.StripeCancelURL,
		prices:        prices,
		now:           time.Now,
	}
}

// CreateCheckoutSession starts a subscription checkout for plan and returns
// the hosted page URL and the session id.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID, email string, plan accounts.PlanType) (string, string, error) {
	if s == nil {
		return "", "", ErrNotConfigured
	}
	p, ok := accounts.ParsePlan(string(plan))
	if !ok || !p.Paid() {
		return "", "", fmt.Errorf("%w: %q", ErrPlanNotPurchasable, plan)
	}
	price := s.prices[p]
	if price == "" {
		return "", "", fmt.Errorf("%w: no price configured for %q", ErrPlanNotPurchasable, p)
	}
	meta := map[string]string{"user_id": userID, "plan_type": string(p)}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(1),
		}},
		ClientReferenceID: stripe.String(userID),
		Metadata:          meta,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.Context = ctx

	sess, err := s.sessions.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
			logging.FromContext(ctx).Error().Str("key", maskKey(s.secretKey)).Err(err).Msg("stripe rejected api key")
			return "", "", ErrInvalidAPIKey
		}
		return "", "", err
	}
	logging.FromContext(ctx).Info().Str("user_id", userID).Str("plan", string(p)).Str("session_id", sess.ID).Msg("checkout session created")
	return sess.URL, sess.ID, nil
}

// Webhook outcomes.
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookDuplicate = "duplicate"
)

// HandleWebhook verifies and applies one Stripe event. The event id is
// claimed before the event is applied, so concurrent or later redeliveries
// are acknowledged without being applied again. A failed event releases its
// claim and Stripe's retry processes it.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	event, err := s.parseEvent(payload, signature)
	if err != nil {
		return "", err
	}
	log := logging.FromContext(ctx).With().Str("event_id", event.ID).Str("type", string(event.Type)).Logger()

	var apply func(context.Context, *stripe.Event) error
	switch event.Type {
	case "checkout.session.completed":
		apply = s.checkoutCompleted
	case "customer.subscription.updated":
		apply = func(ctx context.Context, e *stripe.Event) error { return s.subscriptionChanged(ctx, e, false) }
	case "customer.subscription.deleted":
		apply = func(ctx context.Context, e *stripe.Event) error { return s.subscriptionChanged(ctx, e, true) }
	default:
		log.Debug().Msg("stripe event ignored")
		return WebhookIgnored, nil
	}

	if event.ID != "" {
		claimed, err := s.mirror.ClaimEvent(ctx, event.ID, string(event.Type))
		if err != nil {
			return "", fmt.Errorf("claim event: %w", err)
		}
		if !claimed {
			log.Info().Msg("stripe event already processed")
			return WebhookDuplicate, nil
		}
	}
	if err := apply(ctx, event); err != nil {
		if event.ID != "" {
			if rerr := s.mirror.ReleaseEvent(context.WithoutCancel(ctx), event.ID); rerr != nil {
				log.Error().Err(rerr).Msg("release event claim failed")
			}
		}
		return "", err
	}
	log.Info().Msg("stripe event processed")
	return WebhookProcessed, nil
}

func (s *StripeService) parseEvent(payload []byte, signature string) (*stripe.Event, error) {
	if s.webhookSecret != "" {
		event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return &event, nil
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrBadPayload)
	}
	return &event, nil
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	CanceledAt        int64             `json:"canceled_at"`
	Metadata          map[string]string `json:"metadata"`
}

func (s *StripeService) checkoutCompleted(ctx context.Context, event *stripe.Event) error {
	var sess checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("%w: decode checkout.session: %v", ErrBadPayload, err)
	}
	userID := strings.TrimSpace(sess.Metadata["user_id"])
	if userID == "" {
		userID = strings.TrimSpace(sess.ClientReferenceID)
	}
	plan, ok := accounts.ParsePlan(sess.Metadata["plan_type"])
	if userID == "" || !ok {
		return fmt.Errorf("%w: checkout %s lacks user_id or plan_type metadata", ErrBadPayload, sess.ID)
	}
	if sess.Subscription != "" {
		row := &Subscription{
			SubscriptionID: sess.Subscription,
			UserID:         userID,
			CustomerID:     sess.Customer,
			PlanType:       plan,
			Status:         string(stripe.SubscriptionStatusActive),
			UpdatedAt:      s.now().UTC(),
		}
		if err := s.mirror.Upsert(ctx, row); err != nil {
			return fmt.Errorf("mirror subscription: %w", err)
		}
	}
	_, err := s.ledger.Apply(ctx, ledger.Event{Kind: ledger.EventCheckoutCompleted, UserID: userID, Plan: plan})
	return err
}

func (s *StripeService) subscriptionChanged(ctx context.Context, event *stripe.Event, deleted bool) error {
	var obj subscriptionObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil || obj.ID == "" {
		return fmt.Errorf("%w: decode subscription: %v", ErrBadPayload, err)
	}
	prev, err := s.mirror.Get(ctx, obj.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("read mirror: %w", err)
	}
	userID := strings.TrimSpace(obj.Metadata["user_id"])
	if userID == "" && prev != nil {
		userID = prev.UserID
	}
	if userID == "" {
		return fmt.Errorf("%w: subscription %s has no known user", ErrBadPayload, obj.ID)
	}
	plan, _ := accounts.ParsePlan(obj.Metadata["plan_type"])

	row := &Subscription{
		SubscriptionID:   obj.ID,
		UserID:           userID,
		CustomerID:       obj.Customer,
		PlanType:         plan,
		Status:           obj.Status,
		CurrentPeriodEnd: unixTime(obj.CurrentPeriodEnd),
		CanceledAt:       unixTime(obj.CanceledAt),
		UpdatedAt:        s.now().UTC(),
	}
	if err := s.mirror.Upsert(ctx, row); err != nil {
		return fmt.Errorf("mirror subscription: %w", err)
	}

	cancel := deleted
	if !deleted {
		becameCanceled := obj.Status == string(stripe.SubscriptionStatusCanceled) &&
			(prev == nil || prev.Status != string(stripe.SubscriptionStatusCanceled))
		_, flagChanged := event.Data.PreviousAttributes["cancel_at_period_end"]
		cancel = becameCanceled || (obj.CancelAtPeriodEnd && flagChanged)
	}
	if !cancel {
		return nil
	}
	other, err := s.mirror.HasOtherLive(ctx, userID, obj.ID)
	if err != nil {
		return fmt.Errorf("read mirror: %w", err)
	}
	if other {
		logging.FromContext(ctx).Info().Str("user_id", userID).Str("subscription_id", obj.ID).
			Msg("subscription ended but user holds another live subscription")
		return nil
	}
	_, err = s.ledger.Apply(ctx, ledger.Event{Kind: ledger.EventSubscriptionCanceled, UserID: userID})
	return err
}
