package models

import "time"

type AgentPhase string

const (
	AgentIdle      AgentPhase = "IDLE"
	AgentAnalyzing AgentPhase = "ANALYZING"
	AgentPatching  AgentPhase = "PATCHING"
	AgentResolved  AgentPhase = "RESOLVED"
)

// AgentPhases lists every phase in lifecycle order.
var AgentPhases = []AgentPhase{AgentIdle, AgentAnalyzing, AgentPatching, AgentResolved}

// Finding is one simulated anomaly the remediation agent works on.
type Finding struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	ObservedAt time.Time `json:"observed_at"`
}

// AgentState is a snapshot; callers receive copies, never the live value.
type AgentState struct {
	State          AgentPhase `json:"state"`
	ActiveErrors   []Finding  `json:"active_errors"`
	LastResolvedAt *time.Time `json:"last_resolved_at"`
}
