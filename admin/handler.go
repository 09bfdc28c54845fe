// Package admin exposes the operator API over the credit ledger.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"staging-backend/accounts"
	"staging-backend/auth"
	"staging-backend/ledger"
	"staging-backend/logging"
	"staging-backend/stats"
)

type Credits interface {
	Grant(ctx context.Context, req ledger.CreditRequest) (*accounts.Account, error)
	SetLimit(ctx context.Context, req ledger.CreditRequest) (*accounts.Account, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (*ledger.Report, error)
	Preview(ctx context.Context, userID string) (*ledger.Report, error)
}

type Resetter interface {
	AdminReset(ctx context.Context, userID string) (*accounts.Account, error)
}

type Checker interface {
	Check(ctx context.Context, userID string) (*ledger.CheckResult, error)
	CheckAll(ctx context.Context) (*ledger.CheckReport, error)
}

// Accounts reads and deletes raw table rows.
type Accounts interface {
	Get(ctx context.Context, t accounts.Table, userID string) (*accounts.Account, error)
	Delete(ctx context.Context, userID string) (int64, error)
}

type Stats interface {
	Summary(ctx context.Context) (*stats.Summary, error)
}

type Notifier interface {
	SendCreditsGranted(to string, credits, limit int) error
}

// Deps wires the handler. Stats and Notify may be nil.
type Deps struct {
	Credits    Credits
	Reconciler Reconciler
	Resetter   Resetter
	Checker    Checker
	Accounts   Accounts
	Stats      Stats
	Notify     Notifier
}

type Handler struct {
	d Deps
}

func NewHandler(d Deps) *Handler { return &Handler{d: d} }

// RegisterRoutes mounts /admin behind the shared operator token.
func (h *Handler) RegisterRoutes(r gin.IRouter, adminToken string) {
	g := r.Group("/admin", auth.RequireAdmin(adminToken))
	g.POST("/credits/grant", h.grant)
	g.POST("/credits/set", h.setLimit)
	g.POST("/reconcile", h.reconcile)
	g.POST("/reset", h.reset)
	g.POST("/subscription/check", h.check)
	g.POST("/subscription/check-all", h.checkAll)
	g.GET("/users/:id", h.user)
	g.DELETE("/users/:id", h.deleteUser)
	g.GET("/stats", h.summary)
}

type creditBody struct {
	UserID   string          `json:"userId"`
	Email    string          `json:"email"`
	Credits  json.RawMessage `json:"credits"`
	PlanType string          `json:"planType"`
}

// parseCredits accepts a JSON integer or a numeric string.
func parseCredits(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errors.New("credits is required")
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("credits must be an integer, got %s", raw)
	}
	return n, nil
}

func (h *Handler) creditRequest(c *gin.Context) (ledger.CreditRequest, bool) {
	var body creditBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return ledger.CreditRequest{}, false
	}
	n, err := parseCredits(body.Credits)
	if err != nil {
		badRequest(c, err.Error())
		return ledger.CreditRequest{}, false
	}
	return ledger.CreditRequest{
		UserID:   strings.TrimSpace(body.UserID),
		Email:    body.Email,
		Credits:  n,
		PlanType: accounts.PlanType(strings.TrimSpace(body.PlanType)),
	}, true
}

func (h *Handler) grant(c *gin.Context) {
	req, valid := h.creditRequest(c)
	if !valid {
		return
	}
	a, err := h.d.Credits.Grant(c.Request.Context(), req)
	if err != nil {
		fail(c, err, a)
		return
	}
	if h.d.Notify != nil && a.Email != "" {
		if nerr := h.d.Notify.SendCreditsGranted(a.Email, req.Credits, a.PhotosLimit); nerr != nil {
			logging.FromContext(c.Request.Context()).Warn().Err(nerr).Str("user_id", a.UserID).Msg("credits mail failed")
		}
	}
	ok(c, fmt.Sprintf("granted %d credits", req.Credits), a)
}

func (h *Handler) setLimit(c *gin.Context) {
	req, valid := h.creditRequest(c)
	if !valid {
		return
	}
	a, err := h.d.Credits.SetLimit(c.Request.Context(), req)
	if err != nil {
		fail(c, err, a)
		return
	}
	ok(c, fmt.Sprintf("limit set to %d", a.PhotosLimit), a)
}

type userBody struct {
	UserID string `json:"userId"`
	DryRun bool   `json:"dryRun"`
}

// bindUser reads an optional JSON body; an empty body is allowed.
func bindUser(c *gin.Context) (userBody, bool) {
	var body userBody
	if c.Request.ContentLength == 0 {
		return body, true
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return body, false
	}
	body.UserID = strings.TrimSpace(body.UserID)
	return body, true
}

func (h *Handler) reconcile(c *gin.Context) {
	body, valid := bindUser(c)
	if !valid {
		return
	}
	run := h.d.Reconciler.Reconcile
	if body.DryRun {
		run = h.d.Reconciler.Preview
	}
	report, err := run(c.Request.Context(), body.UserID)
	if err != nil {
		fail(c, err, report)
		return
	}
	msg := fmt.Sprintf("reconciled %d users", report.Total)
	if body.DryRun {
		msg = fmt.Sprintf("dry run over %d users", report.Total)
	}
	ok(c, msg, report)
}

func (h *Handler) reset(c *gin.Context) {
	body, valid := bindUser(c)
	if !valid {
		return
	}
	if body.UserID == "" {
		badRequest(c, "userId is required")
		return
	}
	a, err := h.d.Resetter.AdminReset(c.Request.Context(), body.UserID)
	if err != nil {
		fail(c, err, a)
		return
	}
	ok(c, "account reset to free plan", a)
}

func (h *Handler) check(c *gin.Context) {
	body, valid := bindUser(c)
	if !valid {
		return
	}
	if body.UserID == "" {
		badRequest(c, "userId is required")
		return
	}
	res, err := h.d.Checker.Check(c.Request.Context(), body.UserID)
	if err != nil {
		fail(c, err, res)
		return
	}
	ok(c, string(res.Outcome), res)
}

func (h *Handler) checkAll(c *gin.Context) {
	report, err := h.d.Checker.CheckAll(c.Request.Context())
	if err != nil {
		fail(c, err, report)
		return
	}
	ok(c, fmt.Sprintf("checked %d users, %d downgraded", report.Total, report.Downgraded), report)
}

type userView struct {
	Primary    *accounts.Account `json:"primary"`
	Projection *accounts.Account `json:"projection"`
	Diverged   bool              `json:"diverged"`
}

func (h *Handler) user(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var view userView
	for _, t := range []accounts.Table{accounts.Primary, accounts.Projection} {
		a, err := h.d.Accounts.Get(ctx, t, id)
		if errors.Is(err, accounts.ErrNotFound) {
			continue
		}
		if err != nil {
			logging.FromContext(ctx).Error().Err(err).Str("user_id", id).Str("table", string(t)).Msg("load account failed")
			c.JSON(http.StatusBadGateway, envelope{Error: "could not load account"})
			return
		}
		if t == accounts.Primary {
			view.Primary = a
		} else {
			view.Projection = a
		}
	}
	if view.Primary == nil && view.Projection == nil {
		c.JSON(http.StatusNotFound, envelope{Error: "user not found"})
		return
	}
	view.Diverged = diverged(view.Primary, view.Projection)
	ok(c, "", view)
}

func diverged(a, b *accounts.Account) bool {
	if a == nil || b == nil {
		return true
	}
	return a.PhotosLimit != b.PhotosLimit || a.PhotosUsed != b.PhotosUsed || a.PlanType != b.PlanType
}

func (h *Handler) deleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	n, err := h.d.Accounts.Delete(ctx, id)
	if errors.Is(err, accounts.ErrNotFound) {
		c.JSON(http.StatusNotFound, envelope{Error: "user not found"})
		return
	}
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Str("user_id", id).Msg("delete account failed")
		c.JSON(http.StatusBadGateway, envelope{Error: "could not delete account"})
		return
	}
	logging.FromContext(ctx).Info().Str("user_id", id).Int64("rows", n).Msg("account deleted")
	ok(c, fmt.Sprintf("deleted %d rows", n), nil)
}

func (h *Handler) summary(c *gin.Context) {
	if h.d.Stats == nil {
		c.JSON(http.StatusServiceUnavailable, envelope{Error: "stats unavailable"})
		return
	}
	summary, err := h.d.Stats.Summary(c.Request.Context())
	if err != nil {
		logging.FromContext(c.Request.Context()).Error().Err(err).Msg("[ADMIN_STATS] summary failed")
		c.JSON(http.StatusBadGateway, envelope{Error: "could not build stats"})
		return
	}
	ok(c, "", summary)
}
