package quota

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"staging-backend/accounts"
	"staging-backend/auth"
	"staging-backend/ledger"
	"staging-backend/logging"
)

// Context keys set on successful consumption.
const (
	RemainingKey    = "quota_remaining"
	RemainingHeader = "X-Credits-Remaining"
)

// Ledger is the part of the credit ledger the validator needs.
type Ledger interface {
	Consume(ctx context.Context, userID string, n int) (*accounts.Account, error)
	Apply(ctx context.Context, userID, op string, fn func(*accounts.Account) error) (*accounts.Account, error)
}

// Validator charges one credit per request on metered routes.
type Validator struct {
	ledger  Ledger
	limiter *RateLimiter
}

// NewValidator builds a validator. limiter may be nil.
func NewValidator(l Ledger, limiter *RateLimiter) *Validator {
	return &Validator{ledger: l, limiter: limiter}
}

// Middleware consumes one credit for flow before the handler runs and
// refunds it when the handler answers with an error status.
// Must run after auth.RequireUser.
func (v *Validator) Middleware(flow string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		userID := claims.Subject
		ctx := c.Request.Context()
		log := logging.FromContext(ctx).With().Str("flow", flow).Str("user_id", userID).Logger()

		if os.Getenv("QUOTA_DISABLE") == "1" {
			log.Warn().Msg("[quota][bypass] QUOTA_DISABLE=1")
			c.Next()
			return
		}
		if !v.limiter.Allow(userID) {
			log.Warn().Msg("[quota][deny] rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		a, err := v.ledger.Consume(ctx, userID, 1)
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			log.Info().Msg("[quota][exhausted]")
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "quota exhausted", "remaining": 0})
			return
		case errors.Is(err, ledger.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		case err != nil && a == nil:
			log.Error().Err(err).Msg("[quota][error] consume failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not charge credits"})
			return
		case err != nil:
			// primary charged, projection lagging; reconciliation repairs it
			log.Warn().Err(err).Msg("[quota][consume] projection write failed")
		}

		remaining := a.Remaining()
		c.Set(RemainingKey, remaining)
		c.Header(RemainingHeader, strconv.Itoa(remaining))
		log.Info().Int("remaining_after", remaining).Msg("[quota][ok]")

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			v.refund(context.WithoutCancel(ctx), userID, flow)
		}
	}
}

func (v *Validator) refund(ctx context.Context, userID, flow string) {
	log := logging.FromContext(ctx)
	_, err := v.ledger.Apply(ctx, userID, "refund", func(a *accounts.Account) error {
		if a.PhotosUsed > 0 {
			a.PhotosUsed--
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("flow", flow).Str("user_id", userID).Msg("[quota][refund] failed")
		return
	}
	log.Info().Str("flow", flow).Str("user_id", userID).Msg("[quota][refund]")
}

// Remaining returns the balance stored by Middleware, if any.
func Remaining(c *gin.Context) (int, bool) {
	v, ok := c.Get(RemainingKey)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}
