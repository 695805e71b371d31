package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketguard-backend/internal/models"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_RecentEventsNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendEvent(ctx, &models.SecurityEvent{
			ID:        string(rune('a' + i)),
			EventType: models.EventNotFoundScan,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := m.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e", events[0].ID)
	assert.Equal(t, "d", events[1].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestMemoryStore_CountEventsSinceGroupsByIP(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(ip *string, eventType string, at time.Time) {
		require.NoError(t, m.AppendEvent(ctx, &models.SecurityEvent{
			ID: at.String(), EventType: eventType, IP: ip, CreatedAt: at,
		}))
	}
	add(strPtr("10.0.0.1"), models.EventUnauthorizedAccess, now)
	add(strPtr("10.0.0.1"), models.EventUnauthorizedAccess, now.Add(-time.Minute))
	add(strPtr("10.0.0.1"), models.EventUnauthorizedAccess, now.Add(-10*time.Minute))
	add(strPtr("10.0.0.2"), models.EventUnauthorizedAccess, now)
	add(strPtr("10.0.0.2"), models.EventNotFoundScan, now)
	add(nil, models.EventUnauthorizedAccess, now)

	counts, err := m.CountEventsSince(ctx, models.EventUnauthorizedAccess, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"10.0.0.1": 2, "10.0.0.2": 1}, counts)
}

func TestMemoryStore_UpsertKeepsOneRow(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, m.UpsertBlock(ctx, models.BlockedIP{IP: "1.2.3.4", Reason: "first", ExpiresAt: &exp}))
	require.NoError(t, m.UpsertBlock(ctx, models.BlockedIP{IP: "1.2.3.4", Reason: "second", IsPermanent: true}))

	blocks, err := m.ListBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "second", blocks[0].Reason)
	assert.True(t, blocks[0].IsPermanent)
	assert.Nil(t, blocks[0].ExpiresAt)
}

func TestMemoryStore_DeleteExpiredBlockIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.NoError(t, m.UpsertBlock(ctx, models.BlockedIP{IP: "1.1.1.1", ExpiresAt: &past}))
	require.NoError(t, m.UpsertBlock(ctx, models.BlockedIP{IP: "2.2.2.2", ExpiresAt: &future}))

	deleted, err := m.DeleteExpiredBlock(ctx, "1.1.1.1", now)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.DeleteExpiredBlock(ctx, "1.1.1.1", now)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = m.DeleteExpiredBlock(ctx, "2.2.2.2", now)
	require.NoError(t, err)
	assert.False(t, deleted, "live block must survive")

	_, err = m.GetBlock(ctx, "1.1.1.1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConfigOverwrite(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.GetConfig(ctx, models.LockdownKey)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetConfig(ctx, models.LockdownKey, "true"))
	require.NoError(t, m.SetConfig(ctx, models.LockdownKey, "false"))

	value, err := m.GetConfig(ctx, models.LockdownKey)
	require.NoError(t, err)
	assert.Equal(t, "false", value)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	m := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, m.AppendEvent(ctx, &models.SecurityEvent{ID: "x"}))
	_, err := m.ListBlocks(ctx)
	assert.Error(t, err)
}
