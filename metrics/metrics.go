package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks reconciliation, credit mutation, plan transition and
// subscription check outcomes.
type LedgerMetrics struct {
	reconcile     *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	subscriptions *prometheus.CounterVec
}

var (
	instance *LedgerMetrics
	once     sync.Once
)

// Ledger returns the process-wide metrics instance, registering it on first use.
func Ledger() *LedgerMetrics {
	once.Do(func() {
		instance = newLedgerMetrics()
		instance.register(prometheus.DefaultRegisterer)
	})
	return instance
}

func newLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		reconcile: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "staging",
				Subsystem: "ledger",
				Name:      "reconcile_total",
				Help:      "Reconciler per-user results by action and success",
			},
			[]string{"action", "success"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "staging",
				Subsystem: "ledger",
				Name:      "mutations_total",
				Help:      "Credit mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "staging",
				Subsystem: "ledger",
				Name:      "transitions_total",
				Help:      "Plan transitions applied by event kind",
			},
			[]string{"event"},
		),
		subscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "staging",
				Subsystem: "ledger",
				Name:      "subscription_checks_total",
				Help:      "Subscription status checks by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *LedgerMetrics) register(r prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.reconcile, m.mutations, m.transitions, m.subscriptions} {
		if err := r.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

func (m *LedgerMetrics) RecordReconcile(action string, success bool) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(action, strconv.FormatBool(success)).Inc()
}

func (m *LedgerMetrics) RecordMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

func (m *LedgerMetrics) RecordTransition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *LedgerMetrics) RecordSubscriptionCheck(outcome string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(outcome).Inc()
}
