package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// ActionOther labels decisions on actions outside the canonical set.
const ActionOther = "other"

// Metrics groups the counters of the access-control core. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
	auditFailures prometheus.Counter
}

// NewMetrics registers the counters on reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgate_access_decisions_total",
				Help: "Access decisions by resource kind, action and outcome.",
			},
			[]string{"resource_kind", "action", "outcome"},
		),
		tokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgate_download_tokens_issued_total",
				Help: "Download token issuance attempts by outcome.",
			},
			[]string{"outcome"},
		),
		redemptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docgate_download_token_redemptions_total",
				Help: "Download token redemption attempts by outcome.",
			},
			[]string{"outcome"},
		),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docgate_audit_failures_total",
			Help: "Audit events that could not be recorded.",
		}),
	}
	for _, c := range []prometheus.Collector{m.decisions, m.tokensIssued, m.redemptions, m.auditFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveDecision(resourceKind, action, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(resourceKind, action, outcome).Inc()
}

func (m *Metrics) ObserveIssue(outcome string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(outcome).Inc()
}

// ObserveRedemption takes an outcome such as "success" or an error code
// like "ALREADY_USED".
func (m *Metrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}
