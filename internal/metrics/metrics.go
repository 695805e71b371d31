package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the security engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	BlocksTotal       *prometheus.CounterVec
	AnalyzerRuns      prometheus.Counter
	AnalyzerRuleErrs  *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
	NotifyErrors      *prometheus.CounterVec
	AgentState        *prometheus.GaugeVec
	AgentCyclesTotal  prometheus.Counter
	AdmissionRejected *prometheus.CounterVec
}

// NewMetrics registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_events_total",
			Help: "Security events appended to the log",
		}, []string{"type", "level"}),
		BlocksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_blocks_total",
			Help: "Block upserts applied by the enforcer",
		}, []string{"reason"}),
		AnalyzerRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "marketguard_analyzer_runs_total",
			Help: "Completed threat analyzer passes",
		}),
		AnalyzerRuleErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_analyzer_rule_errors_total",
			Help: "Analyzer rules skipped because their data could not be read",
		}, []string{"rule"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_store_errors_total",
			Help: "Persistence failures degraded to defaults",
		}, []string{"op"}),
		NotifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_notify_errors_total",
			Help: "Alert deliveries that failed",
		}, []string{"notifier"}),
		AgentState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketguard_agent_state",
			Help: "1 for the remediation agent's current state, 0 otherwise",
		}, []string{"state"}),
		AgentCyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "marketguard_agent_cycles_total",
			Help: "Remediation cycles started",
		}),
		AdmissionRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_admission_rejected_total",
			Help: "Requests rejected before reaching a handler",
		}, []string{"cause"}),
	}
}

func (m *Metrics) EventAppended(eventType, level string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType, level).Inc()
}

func (m *Metrics) BlockApplied(reason string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) AnalyzerRun() {
	if m == nil {
		return
	}
	m.AnalyzerRuns.Inc()
}

func (m *Metrics) RuleError(rule string) {
	if m == nil {
		return
	}
	m.AnalyzerRuleErrs.WithLabelValues(rule).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) NotifyError(notifier string) {
	if m == nil {
		return
	}
	m.NotifyErrors.WithLabelValues(notifier).Inc()
}

// SetAgentState marks current as the only active state.
func (m *Metrics) SetAgentState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.AgentState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) AgentCycleStarted() {
	if m == nil {
		return
	}
	m.AgentCyclesTotal.Inc()
}

func (m *Metrics) Rejected(cause string) {
	if m == nil {
		return
	}
	m.AdmissionRejected.WithLabelValues(cause).Inc()
}
