package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the domain counters.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// DomainMetrics counts ledger mutations, referral transitions and tracker decisions.
type DomainMetrics struct {
	ledgerOps   *prometheus.CounterVec
	ledgerSum   *prometheus.CounterVec
	referrals   *prometheus.CounterVec
	tracker     *prometheus.CounterVec
	alertsRaise *prometheus.CounterVec
}

// NewDomainMetrics registers the domain collectors; a nil registerer yields a no-op recorder.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	m := &DomainMetrics{
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_ledger_operations_total",
			Help: "Ledger operations by operation, kind and outcome.",
		}, []string{"operation", "kind", "outcome"}),
		ledgerSum: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_ledger_amount_total",
			Help: "Absolute credits moved by kind.",
		}, []string{"kind"}),
		referrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_referral_transitions_total",
			Help: "Referral lifecycle transitions.",
		}, []string{"transition"}),
		tracker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_tracker_decisions_total",
			Help: "Rate and anomaly tracker decisions by policy and outcome.",
		}, []string{"policy", "outcome"}),
		alertsRaise: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_admin_alerts_total",
			Help: "Admin alerts raised by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(m.ledgerOps, m.ledgerSum, m.referrals, m.tracker, m.alertsRaise)
	return m
}

func (m *DomainMetrics) LedgerOperation(operation, kind, outcome string, amount int64) {
	if m == nil || m.ledgerOps == nil {
		return
	}
	m.ledgerOps.WithLabelValues(operation, normalizeLabel(kind), outcome).Inc()
	if outcome == OutcomeApplied && amount != 0 {
		if amount < 0 {
			amount = -amount
		}
		m.ledgerSum.WithLabelValues(normalizeLabel(kind)).Add(float64(amount))
	}
}

func (m *DomainMetrics) ReferralTransition(transition string) {
	if m == nil || m.referrals == nil {
		return
	}
	m.referrals.WithLabelValues(normalizeLabel(transition)).Inc()
}

func (m *DomainMetrics) TrackerDecision(policy, outcome string) {
	if m == nil || m.tracker == nil {
		return
	}
	m.tracker.WithLabelValues(normalizeLabel(policy), outcome).Inc()
}

func (m *DomainMetrics) AlertRaised(category string) {
	if m == nil || m.alertsRaise == nil {
		return
	}
	m.alertsRaise.WithLabelValues(normalizeLabel(category)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
