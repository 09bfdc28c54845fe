package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"staging-backend/accounts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(s Store, opts ReconcileOptions) *Reconciler {
	r := NewReconciler(s, opts)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestReconcileCreatesMissingProjectionWithZeroUsed(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("U", accounts.PlanStandard, 50, 10))

	report, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "U")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, Result{UserID: "U", Action: ActionCreated, Success: true}, report.Results[0])

	b := s.row(accounts.Projection, "U")
	require.NotNil(t, b)
	assert.Equal(t, 50, b.PhotosLimit)
	assert.Equal(t, 0, b.PhotosUsed)
	assert.Equal(t, accounts.PlanStandard, b.PlanType)
	assert.Equal(t, fixedNow, b.UpdatedAt)

	// primary untouched
	a := s.row(accounts.Primary, "U")
	assert.Equal(t, 10, a.PhotosUsed)
}

func TestReconcileCreateDefaultsPlanToStandard(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("U", "", 20, 0))

	_, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, accounts.PlanStandard, s.row(accounts.Projection, "U").PlanType)
}

func TestReconcileCopyUsedOnCreate(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("U", accounts.PlanStandard, 50, 10))

	_, err := newTestReconciler(s, ReconcileOptions{CopyUsedOnCreate: true}).Reconcile(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, 10, s.row(accounts.Projection, "U").PhotosUsed)
}

func TestReconcileOverwritesDivergedProjection(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("limit", accounts.PlanStandard, 100, 5))
	s.put(accounts.Projection, acct("limit", accounts.PlanStandard, 50, 2))
	s.put(accounts.Primary, acct("used", accounts.PlanAgency, 300, 7))
	s.put(accounts.Projection, acct("used", accounts.PlanAgency, 300, 1))
	s.put(accounts.Primary, acct("plan", accounts.PlanAgency, 300, 7))
	s.put(accounts.Projection, acct("plan", accounts.PlanStandard, 300, 7))
	s.put(accounts.Primary, acct("same", accounts.PlanFree, 3, 0))
	s.put(accounts.Projection, acct("same", accounts.PlanFree, 3, 0))

	report, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Succeeded)

	actions := map[string]Action{}
	for _, r := range report.Results {
		actions[r.UserID] = r.Action
	}
	assert.Equal(t, map[string]Action{
		"limit": ActionUpdatedLimit,
		"used":  ActionUpdatedUsed,
		"plan":  ActionUpdatedPlan,
		"same":  ActionInSync,
	}, actions)

	for _, id := range []string{"limit", "used", "plan", "same"} {
		a, b := s.row(accounts.Primary, id), s.row(accounts.Projection, id)
		assert.Equal(t, a.PhotosLimit, b.PhotosLimit, id)
		assert.Equal(t, a.PhotosUsed, b.PhotosUsed, id)
		assert.Equal(t, a.PlanType, b.PlanType, id)
	}
}

func TestReconcileTwiceIsInSync(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("a", accounts.PlanStandard, 50, 10))
	s.put(accounts.Projection, acct("a", accounts.PlanStandard, 40, 10))
	s.put(accounts.Primary, acct("b", accounts.PlanAgency, 300, 0))
	s.put(accounts.Primary, acct("c", accounts.PlanStandard, 50, 3))
	s.put(accounts.Projection, acct("c", accounts.PlanStandard, 50, 9))

	r := newTestReconciler(s, ReconcileOptions{})
	_, err := r.Reconcile(context.Background(), "")
	require.NoError(t, err)

	second, err := r.Reconcile(context.Background(), "")
	require.NoError(t, err)
	for _, res := range second.Results {
		assert.Equal(t, ActionInSync, res.Action, res.UserID)
		assert.True(t, res.Success)
	}
}

func TestReconcileCreatedWithUsageSettlesOnNextRun(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("U", accounts.PlanStandard, 50, 10))
	r := newTestReconciler(s, ReconcileOptions{})

	first, err := r.Reconcile(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, first.Results[0].Action)

	second, err := r.Reconcile(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, ActionUpdatedUsed, second.Results[0].Action)

	third, err := r.Reconcile(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, ActionInSync, third.Results[0].Action)
}

func TestReconcileBatchContinuesPastFailures(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("a", accounts.PlanStandard, 50, 0))
	s.put(accounts.Primary, acct("b", accounts.PlanStandard, 50, 0))
	s.put(accounts.Primary, acct("c", accounts.PlanStandard, 50, 0))
	s.failWrite[accounts.Projection]["b"] = true

	report, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "")
	require.Error(t, err)

	var partial *PartialBatchFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 3, partial.Total)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Results[1].Success)
	assert.NotEmpty(t, report.Results[1].Error)
	assert.NotNil(t, s.row(accounts.Projection, "a"))
	assert.NotNil(t, s.row(accounts.Projection, "c"))
}

func TestReconcileNeverWritesPrimary(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("a", accounts.PlanStandard, 50, 1))
	s.put(accounts.Projection, acct("a", accounts.PlanStandard, 10, 9))
	s.failWrite[accounts.Primary]["a"] = true

	_, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "a")
	require.NoError(t, err)
}

func TestReconcileUnknownUserIsNotFound(t *testing.T) {
	s := newMemStore()
	report, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Success)
}

func TestReconcileListFailureIsUpstream(t *testing.T) {
	s := newMemStore()
	s.failList = true
	_, err := newTestReconciler(s, ReconcileOptions{}).Reconcile(context.Background(), "")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	s := newMemStore()
	s.put(accounts.Primary, acct("a", accounts.PlanStandard, 50, 1))
	s.put(accounts.Primary, acct("b", accounts.PlanStandard, 50, 1))
	s.put(accounts.Projection, acct("b", accounts.PlanStandard, 10, 1))
	before := s.writes

	report, err := newTestReconciler(s, ReconcileOptions{}).Preview(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, ActionCreated, report.Results[0].Action)
	assert.Equal(t, ActionUpdatedLimit, report.Results[1].Action)
	assert.Equal(t, before, s.writes)
	assert.Nil(t, s.row(accounts.Projection, "a"))
}
