package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketguard-backend/internal/models"
)

// MemoryStore keeps everything in process. It backs tests and single-node
// development runs without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []models.SecurityEvent
	blocks  map[string]models.BlockedIP
	configs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:  make(map[string]models.BlockedIP),
		configs: make(map[string]string),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev *models.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.events = append(m.events, *ev)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) RecentEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	events := make([]models.SecurityEvent, len(m.events))
	copy(events, m.events)
	m.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if limit >= 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MemoryStore) CountEventsSince(ctx context.Context, eventType string, since time.Time) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, ev := range m.events {
		if ev.EventType != eventType || ev.IP == nil || ev.CreatedAt.Before(since) {
			continue
		}
		counts[*ev.IP]++
	}
	return counts, nil
}

func (m *MemoryStore) GetBlock(ctx context.Context, ip string) (*models.BlockedIP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	block, ok := m.blocks[ip]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &block, nil
}

func (m *MemoryStore) UpsertBlock(ctx context.Context, block models.BlockedIP) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.blocks[block.IP]; ok {
		block.CreatedAt = existing.CreatedAt
	} else if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}
	if block.UpdatedAt.IsZero() {
		block.UpdatedAt = now
	}
	m.blocks[block.IP] = block
	return nil
}

func (m *MemoryStore) DeleteBlock(ctx context.Context, ip string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.blocks, ip)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteExpiredBlock(ctx context.Context, ip string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	block, ok := m.blocks[ip]
	if !ok || !block.Expired(now) {
		return false, nil
	}
	delete(m.blocks, ip)
	return true, nil
}

func (m *MemoryStore) ListBlocks(ctx context.Context) ([]models.BlockedIP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	blocks := make([]models.BlockedIP, 0, len(m.blocks))
	for _, block := range m.blocks {
		blocks = append(blocks, block)
	}
	m.mu.RUnlock()

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].CreatedAt.After(blocks[j].CreatedAt)
	})
	return blocks, nil
}

func (m *MemoryStore) GetConfig(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	value, ok := m.configs[name]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) SetConfig(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.configs[name] = value
	m.mu.Unlock()
	return nil
}
