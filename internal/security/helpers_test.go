package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"marketguard-backend/internal/config"
	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/models"
	"marketguard-backend/internal/storage"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps MemoryStore and fails selected operations.
type flakyStore struct {
	*storage.MemoryStore
	mu          sync.Mutex
	failCount   map[string]bool
	failBlocks  bool
	failConfigs bool
	afterGet    func()
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: storage.NewMemoryStore(), failCount: make(map[string]bool)}
}

func (f *flakyStore) CountEventsSince(ctx context.Context, eventType string, since time.Time) (map[string]int, error) {
	f.mu.Lock()
	fail := f.failCount[eventType]
	f.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return f.MemoryStore.CountEventsSince(ctx, eventType, since)
}

func (f *flakyStore) GetBlock(ctx context.Context, ip string) (*models.BlockedIP, error) {
	if f.failBlocks {
		return nil, errStoreDown
	}
	block, err := f.MemoryStore.GetBlock(ctx, ip)
	f.mu.Lock()
	hook := f.afterGet
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return block, err
}

// pauseNextGet holds the next GetBlock after it has read the store until
// the returned release func is called. fetched is closed once the read is done.
func (f *flakyStore) pauseNextGet() (fetched <-chan struct{}, release func()) {
	read := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.mu.Lock()
	f.afterGet = func() {
		once.Do(func() {
			close(read)
			<-gate
		})
	}
	f.mu.Unlock()
	return read, func() { close(gate) }
}

func (f *flakyStore) UpsertBlock(ctx context.Context, block models.BlockedIP) error {
	if f.failBlocks {
		return errStoreDown
	}
	return f.MemoryStore.UpsertBlock(ctx, block)
}

func (f *flakyStore) ListBlocks(ctx context.Context) ([]models.BlockedIP, error) {
	if f.failBlocks {
		return nil, errStoreDown
	}
	return f.MemoryStore.ListBlocks(ctx)
}

func (f *flakyStore) GetConfig(ctx context.Context, name string) (string, error) {
	if f.failConfigs {
		return "", errStoreDown
	}
	return f.MemoryStore.GetConfig(ctx, name)
}

func (f *flakyStore) SetConfig(ctx context.Context, name, value string) error {
	if f.failConfigs {
		return errStoreDown
	}
	return f.MemoryStore.SetConfig(ctx, name, value)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(ctx context.Context, ev models.SecurityEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type engine struct {
	store    *flakyStore
	events   *EventLog
	blocks   *BlockRegistry
	enforcer *Enforcer
	analyzer *Analyzer
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	cfg := config.Default()
	logger := zap.NewNop()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	store := newFlakyStore()

	events := NewEventLog(store, time.Second, logger, m)
	blocks := NewBlockRegistry(store, time.Second, 128, time.Minute, logger, m)
	enforcer := NewEnforcer(blocks, store, events, time.Second, logger, m)
	notifier := &recordingNotifier{}
	enforcer.AddNotifier(notifier)
	analyzer := NewAnalyzer(cfg.Analyzer, events, enforcer, store, time.Second, logger, m)

	return &engine{
		store:    store,
		events:   events,
		blocks:   blocks,
		enforcer: enforcer,
		analyzer: analyzer,
		notifier: notifier,
		metrics:  m,
	}
}

func (e *engine) seed(t *testing.T, ip, eventType string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ipCopy := ip
		e.events.Append(context.Background(), models.SecurityEvent{
			Level:     models.LevelWarn,
			EventType: eventType,
			IP:        &ipCopy,
		})
	}
}

func (e *engine) eventsOfType(t *testing.T, eventType string) []models.SecurityEvent {
	t.Helper()
	all, err := e.store.RecentEvents(context.Background(), 10000)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var out []models.SecurityEvent
	for _, ev := range all {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}
