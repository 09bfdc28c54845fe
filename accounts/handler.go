package accounts

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"staging-backend/auth"
	"staging-backend/logging"
)

// Welcomer sends the first-sign-in mail.
type Welcomer interface {
	SendWelcome(to string) error
}

type Handler struct {
	repo    *Repository
	welcome Welcomer
}

// NewHandler builds the user-facing account handler. welcome may be nil.
func NewHandler(repo *Repository, welcome Welcomer) *Handler {
	return &Handler{repo: repo, welcome: welcome}
}

func (h *Handler) RegisterRoutes(r gin.IRouter, requireUser gin.HandlerFunc) {
	r.GET("/me", requireUser, h.me)
}

type meResponse struct {
	UserID             string     `json:"user_id"`
	Email              string     `json:"email"`
	PlanType           PlanType   `json:"plan_type"`
	PhotosLimit        int        `json:"photos_limit"`
	PhotosUsed         int        `json:"photos_used"`
	Remaining          int        `json:"remaining"`
	SubscriptionStatus Status     `json:"subscription_status"`
	CancellationDate   *time.Time `json:"cancellation_date"`
}

// me returns the caller's plan and credits. The first call for a new user
// creates the free account in both tables.
func (h *Handler) me(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	ctx := c.Request.Context()
	log := logging.FromContext(ctx)

	a, created, err := h.repo.Ensure(ctx, claims.Subject, claims.Email)
	if err != nil {
		if a == nil {
			log.Error().Err(err).Str("user_id", claims.Subject).Msg("load account failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load account"})
			return
		}
		log.Warn().Err(err).Str("user_id", claims.Subject).Msg("account created with diverged copies")
	}
	if created {
		log.Info().Str("user_id", a.UserID).Msg("free account created on first sign-in")
		if h.welcome != nil && a.Email != "" {
			if err := h.welcome.SendWelcome(a.Email); err != nil {
				log.Warn().Err(err).Str("user_id", a.UserID).Msg("welcome mail failed")
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": meResponse{
		UserID:             a.UserID,
		Email:              a.Email,
		PlanType:           a.PlanType,
		PhotosLimit:        a.PhotosLimit,
		PhotosUsed:         a.PhotosUsed,
		Remaining:          a.Remaining(),
		SubscriptionStatus: a.SubscriptionStatus,
		CancellationDate:   a.CancellationDate,
	}})
}
