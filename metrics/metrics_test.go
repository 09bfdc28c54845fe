package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := newLedgerMetrics()
	reg := prometheus.NewRegistry()
	m.register(reg)

	m.RecordReconcile("created", true)
	m.RecordReconcile("created", true)
	m.RecordMutation("grant", nil)
	m.RecordMutation("grant", errors.New("boom"))
	m.RecordTransition("admin_reset")
	m.RecordSubscriptionCheck("downgraded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconcile.WithLabelValues("created", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("grant", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("grant", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("admin_reset")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("downgraded")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *LedgerMetrics
	m.RecordReconcile("in_sync", true)
	m.RecordMutation("grant", nil)
	m.RecordTransition("x")
	m.RecordSubscriptionCheck("valid")
}

func TestLedgerSingleton(t *testing.T) {
	assert.Same(t, Ledger(), Ledger())
}
