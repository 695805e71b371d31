package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"marketguard-backend/internal/models"
)

type stubObserver struct {
	mu       sync.Mutex
	outcomes []models.RequestOutcome
}

func (s *stubObserver) Observe(ctx context.Context, o models.RequestOutcome) *models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	if o.Status == 401 {
		return &models.SecurityEvent{EventType: models.EventUnauthorizedAccess}
	}
	return nil
}

func encode(t *testing.T, o models.RequestOutcome) []byte {
	t.Helper()
	data, err := msgpack.Marshal(o)
	require.NoError(t, err)
	return data
}

func TestOutcomeConsumer_Handle(t *testing.T) {
	obs := &stubObserver{}
	c := NewOutcomeConsumer(nil, obs, zap.NewNop())

	err := c.handle(context.Background(), encode(t, models.RequestOutcome{
		V: 1, Service: "catalog", Status: 401, IP: "203.0.113.4", Path: "/login", Method: "POST",
	}))
	require.NoError(t, err)

	require.Len(t, obs.outcomes, 1)
	assert.Equal(t, "catalog", obs.outcomes[0].Service)
	assert.Equal(t, "203.0.113.4", obs.outcomes[0].IP)
}

func TestOutcomeConsumer_Malformed(t *testing.T) {
	obs := &stubObserver{}
	c := NewOutcomeConsumer(nil, obs, zap.NewNop())

	err := c.handle(context.Background(), []byte{0xc1, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)

	err = c.handle(context.Background(), encode(t, models.RequestOutcome{V: 1, IP: "203.0.113.4"}))
	assert.ErrorIs(t, err, ErrMalformed)

	assert.Empty(t, obs.outcomes)

	assert.NotPanics(t, func() {
		c.processMessage(context.Background(), &nats.Msg{Subject: "security.outcomes.catalog", Data: []byte("junk")})
	})
}

func TestFetchSizer(t *testing.T) {
	f := newFetchSizer(64, 8, 512)

	for i := 0; i < 3; i++ {
		f.observe(64)
	}
	assert.Equal(t, 128, f.size)

	f.observe(10)
	for i := 0; i < 3; i++ {
		f.observe(0)
	}
	assert.Equal(t, 64, f.size)

	for i := 0; i < 30; i++ {
		f.observe(0)
	}
	assert.Equal(t, 8, f.size)

	for i := 0; i < 30; i++ {
		f.observe(f.size)
	}
	assert.Equal(t, 512, f.size)
}

type closedSub struct {
	calls atomic.Int32
	first chan struct{}
	once  sync.Once
}

func (s *closedSub) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.first) })
	return nil, nats.ErrConnectionClosed
}

func (s *closedSub) Drain() error { return nil }

func TestOutcomeConsumer_FetchErrorBacksOff(t *testing.T) {
	sub := &closedSub{first: make(chan struct{})}
	c := &OutcomeConsumer{observer: &stubObserver{}, logger: zap.NewNop(), sub: sub, retryDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.consumeLoop(ctx)
		close(done)
	}()

	<-sub.first
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), sub.calls.Load(), "no retry before the delay elapses")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop did not stop on cancel")
	}
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
}
