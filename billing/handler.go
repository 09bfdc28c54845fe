package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"staging-backend/accounts"
	"staging-backend/auth"
	"staging-backend/logging"
)

const webhookBodyLimit = 1 << 20

type Handler struct {
	svc *StripeService
}

func NewHandler(svc *StripeService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts checkout behind requireUser and the webhook unauthenticated;
// the webhook authenticates through the Stripe signature.
func (h *Handler) RegisterRoutes(r gin.IRouter, requireUser gin.HandlerFunc) {
	r.POST("/billing/checkout", requireUser, h.checkout)
	r.POST("/billing/webhook", h.webhook)
}

type checkoutRequest struct {
	PlanType accounts.PlanType `json:"planType" binding:"required"`
}

func (h *Handler) checkout(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "planType is required"})
		return
	}
	url, sessionID, err := h.svc.CreateCheckoutSession(c.Request.Context(), claims.Subject, claims.Email, body.PlanType)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
	case errors.Is(err, ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPlanNotPurchasable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.FromContext(c.Request.Context()).Error().Err(err).Str("user_id", claims.Subject).Msg("checkout failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider error"})
	}
}

func (h *Handler) webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	result, err := h.svc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
	case errors.Is(err, ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrBadPayload):
		logging.FromContext(c.Request.Context()).Warn().Err(err).Msg("stripe webhook rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.FromContext(c.Request.Context()).Error().Err(err).Msg("stripe webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
