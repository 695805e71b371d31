// Package agent runs the simulated remediation lifecycle
// IDLE -> ANALYZING -> PATCHING -> RESOLVED -> IDLE.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketguard-backend/internal/config"
	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/models"
)

const adminInitiatedMessage = "Manual scan requested (admin initiated)"

// Publisher receives a snapshot after every transition.
type Publisher interface {
	Publish(msg models.FeedMessage)
}

type Agent struct {
	mu    sync.Mutex
	state models.AgentState

	// gen identifies the running cycle so a superseded cycle cannot move
	// a newer one back to IDLE.
	gen uint64

	detector     Detector
	analyzeDelay time.Duration
	patchDelay   time.Duration
	resolveDelay time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics
	feed         Publisher
	now          func() time.Time
	wg           sync.WaitGroup
}

func New(cfg config.AgentConfig, detector Detector, logger *zap.Logger, m *metrics.Metrics) *Agent {
	a := &Agent{
		state:        models.AgentState{State: models.AgentIdle, ActiveErrors: []models.Finding{}},
		detector:     detector,
		analyzeDelay: cfg.AnalyzeDelay,
		patchDelay:   cfg.PatchDelay,
		resolveDelay: cfg.ResolveDelay,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
	a.metrics.SetAgentState(string(models.AgentIdle), phaseNames())
	return a
}

// SetFeed must be called before the agent is started.
func (a *Agent) SetFeed(feed Publisher) {
	a.feed = feed
}

// GetAgentState returns a copy of the current state.
func (a *Agent) GetAgentState() models.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

// ForceScanAndFix starts a cycle on operator request. It reports false
// when a cycle is already analyzing or patching.
func (a *Agent) ForceScanAndFix() bool {
	return a.begin(nil, true)
}

// Tick runs the detector when the agent is idle with nothing pending and
// starts a cycle if it finds anything.
func (a *Agent) Tick(ctx context.Context) bool {
	a.mu.Lock()
	ready := a.state.State == models.AgentIdle && len(a.state.ActiveErrors) == 0
	a.mu.Unlock()
	if !ready {
		return false
	}

	findings := a.detector.Detect(ctx)
	if len(findings) == 0 {
		return false
	}
	return a.begin(findings, false)
}

// Wait blocks until in-flight cycles finish or ctx is done.
func (a *Agent) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) begin(findings []models.Finding, manual bool) bool {
	a.mu.Lock()
	switch a.state.State {
	case models.AgentIdle:
	case models.AgentResolved:
		if !manual {
			a.mu.Unlock()
			return false
		}
	default:
		a.mu.Unlock()
		return false
	}

	if manual {
		findings = a.state.ActiveErrors
		if len(findings) == 0 {
			findings = []models.Finding{{
				ID:         uuid.New().String(),
				Message:    adminInitiatedMessage,
				ObservedAt: a.now().UTC(),
			}}
		}
	}

	a.gen++
	gen := a.gen
	a.state.State = models.AgentAnalyzing
	a.state.ActiveErrors = append([]models.Finding(nil), findings...)
	snap := a.snapshot()
	a.wg.Add(1)
	a.mu.Unlock()

	a.metrics.AgentCycleStarted()
	a.logger.Info("remediation cycle started",
		zap.Bool("manual", manual), zap.Int("findings", len(snap.ActiveErrors)))
	a.transitioned(snap)

	go a.run(gen)
	return true
}

func (a *Agent) run(gen uint64) {
	defer a.wg.Done()

	time.Sleep(a.analyzeDelay)
	if !a.advance(gen, models.AgentPatching) {
		return
	}
	time.Sleep(a.patchDelay)
	if !a.advance(gen, models.AgentResolved) {
		return
	}
	time.Sleep(a.resolveDelay)
	a.advance(gen, models.AgentIdle)
}

// advance moves the cycle identified by gen to next. It returns false if
// another cycle has taken over.
func (a *Agent) advance(gen uint64, next models.AgentPhase) bool {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return false
	}
	a.state.State = next
	if next == models.AgentResolved {
		now := a.now().UTC()
		a.state.ActiveErrors = []models.Finding{}
		a.state.LastResolvedAt = &now
	}
	snap := a.snapshot()
	a.mu.Unlock()

	a.logger.Debug("agent transition", zap.String("state", string(next)))
	a.transitioned(snap)
	return true
}

func (a *Agent) transitioned(snap models.AgentState) {
	a.metrics.SetAgentState(string(snap.State), phaseNames())
	if a.feed != nil {
		a.feed.Publish(models.FeedMessage{Kind: "agent", Agent: &snap})
	}
}

// snapshot must be called with mu held.
func (a *Agent) snapshot() models.AgentState {
	out := models.AgentState{
		State:        a.state.State,
		ActiveErrors: append([]models.Finding{}, a.state.ActiveErrors...),
	}
	if a.state.LastResolvedAt != nil {
		t := *a.state.LastResolvedAt
		out.LastResolvedAt = &t
	}
	return out
}

func phaseNames() []string {
	names := make([]string, len(models.AgentPhases))
	for i, p := range models.AgentPhases {
		names[i] = string(p)
	}
	return names
}
