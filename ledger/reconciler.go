package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"staging-backend/accounts"
	"staging-backend/logging"
	"staging-backend/metrics"
)

type Action string

const (
	ActionCreated      Action = "created"
	ActionUpdatedLimit Action = "updated_limit"
	ActionUpdatedUsed  Action = "updated_used"
	ActionUpdatedPlan  Action = "updated_plan"
	ActionInSync       Action = "in_sync"
)

// Result is the outcome for one user.
type Result struct {
	UserID  string `json:"userId"`
	Action  Action `json:"action,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates a reconcile run.
type Report struct {
	Results   []Result `json:"results"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	DryRun    bool     `json:"dryRun"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Total++
	if res.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

type ReconcileOptions struct {
	// DryRun computes actions without writing.
	DryRun bool
	// CopyUsedOnCreate carries the primary's photos_used into a newly
	// created projection. Off by default: created copies start at zero.
	CopyUsedOnCreate bool
}

// Reconciler makes the projection copy agree with the primary copy.
// Only the projection table is ever written.
type Reconciler struct {
	store   Store
	opts    ReconcileOptions
	now     func() time.Time
	metrics *metrics.LedgerMetrics
}

func NewReconciler(store Store, opts ReconcileOptions) *Reconciler {
	return &Reconciler{store: store, opts: opts, now: time.Now, metrics: metrics.Ledger()}
}

// Reconcile processes userID, or every user of the primary table when userID
// is empty. Users are handled one at a time and a failure never stops the
// batch. When any user of a full run failed, the report is returned together
// with a *PartialBatchFailure; a failed single-user run returns that user's
// error.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*Report, error) {
	return r.run(ctx, userID, r.opts)
}

// Preview is Reconcile with DryRun forced on.
func (r *Reconciler) Preview(ctx context.Context, userID string) (*Report, error) {
	opts := r.opts
	opts.DryRun = true
	return r.run(ctx, userID, opts)
}

func (r *Reconciler) run(ctx context.Context, userID string, opts ReconcileOptions) (*Report, error) {
	log := logging.FromContext(ctx)
	var ids []string
	if userID = strings.TrimSpace(userID); userID != "" {
		ids = []string{userID}
	} else {
		all, err := r.store.ListUserIDs(ctx, accounts.Primary)
		if err != nil {
			return nil, upstream("reconcile", "", err)
		}
		ids = all
	}

	report := &Report{Results: make([]Result, 0, len(ids)), DryRun: opts.DryRun}
	var lastErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			lastErr = err
			report.add(Result{UserID: id, Success: false, Error: err.Error()})
			continue
		}
		action, err := r.reconcileOne(ctx, id, opts)
		res := Result{UserID: id, Action: action, Success: err == nil}
		if err != nil {
			lastErr = err
			res.Error = err.Error()
			log.Warn().Err(err).Str("user_id", id).Msg("reconcile failed")
		} else if action != ActionInSync {
			log.Info().Str("user_id", id).Str("action", string(action)).Bool("dry_run", opts.DryRun).Msg("reconciled")
		}
		r.metrics.RecordReconcile(string(action), res.Success)
		report.add(res)
	}

	log.Info().Int("total", report.Total).Int("succeeded", report.Succeeded).Int("failed", report.Failed).
		Bool("dry_run", opts.DryRun).Msg("reconcile finished")

	if report.Failed > 0 {
		if userID != "" {
			return report, lastErr
		}
		return report, &PartialBatchFailure{Failed: report.Failed, Total: report.Total, Report: report}
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, userID string, opts ReconcileOptions) (Action, error) {
	primary, err := r.store.Get(ctx, accounts.Primary, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		return "", notFound("reconcile", userID, err)
	}
	if err != nil {
		return "", upstream("reconcile", userID, err)
	}

	proj, err := r.store.Get(ctx, accounts.Projection, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		if opts.DryRun {
			return ActionCreated, nil
		}
		created := projectionFrom(primary, r.now(), opts.CopyUsedOnCreate)
		if err := r.store.Insert(ctx, accounts.Projection, created); err != nil {
			return ActionCreated, upstream("reconcile", userID, err)
		}
		return ActionCreated, nil
	}
	if err != nil {
		return "", upstream("reconcile", userID, err)
	}

	var action Action
	switch {
	case proj.PhotosLimit != primary.PhotosLimit:
		action = ActionUpdatedLimit
	case proj.PhotosUsed != primary.PhotosUsed:
		action = ActionUpdatedUsed
	case primary.PlanType != "" && proj.PlanType != primary.PlanType:
		action = ActionUpdatedPlan
	default:
		return ActionInSync, nil
	}
	if opts.DryRun {
		return action, nil
	}

	proj.PhotosLimit = primary.PhotosLimit
	proj.PhotosUsed = primary.PhotosUsed
	if primary.PlanType != "" {
		proj.PlanType = primary.PlanType
	}
	proj.UpdatedAt = r.now()
	if err := r.store.Update(ctx, accounts.Projection, proj); err != nil {
		return action, upstream("reconcile", userID, err)
	}
	return action, nil
}

// projectionFrom builds the copy inserted when the projection row is missing.
func projectionFrom(primary *accounts.Account, now time.Time, copyUsed bool) *accounts.Account {
	b := primary.Clone()
	if b.PlanType == "" {
		b.PlanType = accounts.PlanStandard
	}
	if !copyUsed {
		b.PhotosUsed = 0
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	return b
}
