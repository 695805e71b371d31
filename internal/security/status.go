package security

import (
	"context"

	"marketguard-backend/internal/models"
)

// AgentStateReader is the read side of the remediation agent.
type AgentStateReader interface {
	GetAgentState() models.AgentState
}

// Status is the operator-facing snapshot.
type Status struct {
	Lockdown       bool                   `json:"lockdown"`
	IntegrityScore int                    `json:"integrity_score"`
	Events         []models.SecurityEvent `json:"events"`
	Blocks         []models.BlockedIP     `json:"blocks"`
	Agent          models.AgentState      `json:"agent"`
}

// StatusFacade aggregates the stores for the operator surface without
// mutating anything beyond expired-block cleanup.
type StatusFacade struct {
	analyzer *Analyzer
	events   *EventLog
	blocks   *BlockRegistry
	agent    AgentStateReader
	pageSize int
	penalty  int
}

func NewStatusFacade(analyzer *Analyzer, events *EventLog, blocks *BlockRegistry, agent AgentStateReader, pageSize, penalty int) *StatusFacade {
	return &StatusFacade{
		analyzer: analyzer,
		events:   events,
		blocks:   blocks,
		agent:    agent,
		pageSize: pageSize,
		penalty:  penalty,
	}
}

func (s *StatusFacade) GetStatus(ctx context.Context) Status {
	events := s.events.Recent(ctx, s.pageSize)
	st := Status{
		Lockdown:       s.analyzer.CheckLockdownStatus(ctx),
		IntegrityScore: IntegrityScore(events, s.penalty),
		Events:         events,
		Blocks:         s.blocks.ListAll(ctx),
	}
	if s.agent != nil {
		st.Agent = s.agent.GetAgentState()
	}
	return st
}

// IntegrityScore is 100 minus penalty per CRITICAL event in the page,
// floored at zero. It is a display heuristic only.
func IntegrityScore(events []models.SecurityEvent, penalty int) int {
	critical := 0
	for _, ev := range events {
		if ev.Level == models.LevelCritical {
			critical++
		}
	}
	return max(0, 100-penalty*critical)
}
