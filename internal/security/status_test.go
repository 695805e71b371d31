package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketguard-backend/internal/models"
)

type staticAgent struct{ state models.AgentState }

func (s staticAgent) GetAgentState() models.AgentState { return s.state }

func TestIntegrityScore(t *testing.T) {
	critical := models.SecurityEvent{Level: models.LevelCritical}
	warn := models.SecurityEvent{Level: models.LevelWarn}

	assert.Equal(t, 100, IntegrityScore(nil, 5))
	assert.Equal(t, 90, IntegrityScore([]models.SecurityEvent{critical, warn, critical}, 5))

	many := make([]models.SecurityEvent, 30)
	for i := range many {
		many[i] = critical
	}
	assert.Equal(t, 0, IntegrityScore(many, 5))
}

func TestStatusFacade_Aggregates(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		e.events.Append(ctx, models.SecurityEvent{
			Level:     models.LevelInfo,
			EventType: models.EventNotFoundScan,
			CreatedAt: time.Now().Add(-time.Duration(60-i) * time.Second),
		})
	}
	require.True(t, e.analyzer.ToggleLockdown(ctx, true))
	require.True(t, e.enforcer.Block(ctx, "10.5.5.5", "manual", time.Hour))

	agent := staticAgent{state: models.AgentState{State: models.AgentPatching}}
	facade := NewStatusFacade(e.analyzer, e.events, e.blocks, agent, 50, 5)

	st := facade.GetStatus(ctx)
	assert.True(t, st.Lockdown)
	require.Len(t, st.Events, 50)
	assert.Equal(t, models.EventSystemLockdown, st.Events[0].EventType, "newest first")
	assert.Equal(t, 95, st.IntegrityScore)
	require.Len(t, st.Blocks, 1)
	assert.Equal(t, models.AgentPatching, st.Agent.State)
}

func TestStatusFacade_DegradesOnStoreFailure(t *testing.T) {
	e := newEngine(t)
	e.store.failBlocks = true
	e.store.failConfigs = true

	facade := NewStatusFacade(e.analyzer, e.events, e.blocks, nil, 50, 5)
	st := facade.GetStatus(context.Background())

	assert.False(t, st.Lockdown)
	assert.NotNil(t, st.Blocks)
	assert.Empty(t, st.Blocks)
	assert.Equal(t, 100, st.IntegrityScore)
}
