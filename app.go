package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"staging-backend/accounts"
	"staging-backend/admin"
	"staging-backend/auth"
	"staging-backend/billing"
	"staging-backend/config"
	"staging-backend/email"
	"staging-backend/expiry"
	"staging-backend/ledger"
	"staging-backend/logging"
	"staging-backend/quota"
	"staging-backend/staging"
	"staging-backend/stats"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         *config.Config
	db          *sql.DB
	accounts    *accounts.Repository
	mutator     *ledger.Mutator
	reconciler  *ledger.Reconciler
	transitions *ledger.Transitions
	checker     *ledger.Checker
	stripe      *billing.StripeService
	mailer      *email.Mailer
	signer      *auth.Signer
}

func newApp(cfg *config.Config, db *sql.DB) (*app, error) {
	credits, err := ledger.NewPlanCredits(cfg.PlanCredits)
	if err != nil {
		return nil, err
	}
	policy, err := ledger.ParseCancelPolicy(cfg.CancelPolicy)
	if err != nil {
		return nil, err
	}

	repo := accounts.NewRepository(db)
	mutator := ledger.NewMutator(repo)
	transitions := ledger.NewTransitions(mutator, credits, policy)
	mirror := billing.NewRepository(db)
	stripeSvc := billing.NewStripe(cfg, mirror, transitions)
	if stripeSvc == nil {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; checkout disabled and subscription checks use the local mirror only")
	}

	return &app{
		cfg:         cfg,
		db:          db,
		accounts:    repo,
		mutator:     mutator,
		reconciler:  ledger.NewReconciler(repo, ledger.ReconcileOptions{CopyUsedOnCreate: cfg.ReconcileCopyUsed}),
		transitions: transitions,
		checker:     ledger.NewChecker(mutator, repo, billing.NewSource(mirror, stripeSvc)),
		stripe:      stripeSvc,
		mailer:      email.NewMailer(cfg),
		signer:      auth.NewSigner(cfg.SessionSecret),
	}, nil
}

// notifier returns the mailer when SMTP is configured, nil otherwise.
func (a *app) notifier() *email.Mailer {
	if a.mailer.Enabled() {
		return a.mailer
	}
	return nil
}

func (a *app) sweeper() (*expiry.Sweeper, error) {
	var n expiry.Notifier
	if m := a.notifier(); m != nil {
		n = m
	}
	return expiry.New(a.checker, n, a.cfg.ExpirySweepSchedule)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", auth.AdminTokenHeader, logging.RequestIDHeader},
		ExposeHeaders: []string{quota.RemainingHeader, "X-Token-Expires-At", logging.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(logging.RequestLogger(), gin.Recovery())
	if origins := a.cfg.AllowedOrigins(); len(origins) > 0 {
		r.Use(corsMiddleware(origins))
	}

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireUser := auth.RequireUser(a.signer)
	auth.RegisterSessionRoutes(r, a.signer)

	var welcome accounts.Welcomer
	if m := a.notifier(); m != nil {
		welcome = m
	}
	accounts.NewHandler(a.accounts, welcome).RegisterRoutes(r, requireUser)

	validator := quota.NewValidator(a.mutator, quota.NewRateLimiter(a.cfg.StagingRatePerMinute, 3))
	staging.NewHandler(staging.NewClient(a.cfg)).RegisterRoutes(r, requireUser, validator)

	billing.NewHandler(a.stripe).RegisterRoutes(r, requireUser)

	var notify admin.Notifier
	if m := a.notifier(); m != nil {
		notify = m
	}
	admin.NewHandler(admin.Deps{
		Credits:    a.mutator,
		Reconciler: a.reconciler,
		Resetter:   a.transitions,
		Checker:    a.checker,
		Accounts:   a.accounts,
		Stats:      stats.NewRepository(a.db),
		Notify:     notify,
	}).RegisterRoutes(r, a.cfg.AdminAPIToken)

	return r
}
