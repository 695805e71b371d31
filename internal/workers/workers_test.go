package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"marketguard-backend/internal/security"
)

type countingAnalyzer struct{ runs atomic.Int32 }

func (a *countingAnalyzer) Run(ctx context.Context) security.Report {
	a.runs.Add(1)
	return security.Report{Blocked: map[string][]string{security.RuleScanning: {"198.51.100.1"}}}
}

type countingTicker struct{ ticks atomic.Int32 }

func (a *countingTicker) Tick(ctx context.Context) bool {
	return a.ticks.Add(1)%2 == 0
}

func TestStartThreatAnalyzer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &countingAnalyzer{}

	StartThreatAnalyzer(ctx, a, 5*time.Millisecond, zap.NewNop())
	assert.Eventually(t, func() bool { return a.runs.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := a.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, a.runs.Load())
}

func TestStartAgentMonitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &countingTicker{}

	StartAgentMonitor(ctx, a, 5*time.Millisecond, zap.NewNop())
	assert.Eventually(t, func() bool { return a.ticks.Load() >= 3 }, time.Second, time.Millisecond)
}

type recordingExpirer struct {
	mu  sync.Mutex
	ips []string
}

func (r *recordingExpirer) ExpireIfLapsed(ctx context.Context, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ips = append(r.ips, ip)
}

func TestHandleExpired(t *testing.T) {
	r := &recordingExpirer{}
	ctx := context.Background()

	handleExpired(ctx, r, &redis.Message{Payload: "mg:block:203.0.113.7"})
	handleExpired(ctx, r, &redis.Message{Payload: "rl:api:203.0.113.7"})
	handleExpired(ctx, r, nil)

	assert.Equal(t, []string{"203.0.113.7"}, r.ips)
}
