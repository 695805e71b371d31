package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventAppended("X", "INFO")
		m.BlockApplied("r")
		m.AnalyzerRun()
		m.SetAgentState("IDLE", []string{"IDLE"})
	})
}

func TestAgentStateGaugeIsExclusive(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	all := []string{"IDLE", "ANALYZING", "PATCHING", "RESOLVED"}

	m.SetAgentState("IDLE", all)
	m.SetAgentState("PATCHING", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.AgentState.WithLabelValues("IDLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentState.WithLabelValues("PATCHING")))
}

func TestEventCounterLabels(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.EventAppended("NOT_FOUND_SCAN", "INFO")
	m.EventAppended("NOT_FOUND_SCAN", "INFO")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("NOT_FOUND_SCAN", "INFO")))
}
