package security

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/models"
	"marketguard-backend/internal/storage"
)

type cachedLookup struct {
	block     *models.BlockedIP
	fetchedAt time.Time
}

// BlockRegistry answers admission lookups. Expired entries always read as
// not blocked, and whichever reader sees the expiry first deletes the row.
type BlockRegistry struct {
	store     storage.BlockStore
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cache     *lru.Cache[string, cachedLookup]
	freshness time.Duration
	now       func() time.Time

	// writes counts invalidations. A lookup that overlapped a write is
	// not cached.
	mu     sync.Mutex
	writes uint64
}

// NewBlockRegistry creates a registry. A cacheSize of zero disables the
// lookup cache.
func NewBlockRegistry(store storage.BlockStore, timeout time.Duration, cacheSize int, freshness time.Duration, logger *zap.Logger, m *metrics.Metrics) *BlockRegistry {
	r := &BlockRegistry{
		store:     store,
		timeout:   timeout,
		logger:    logger.Named("blocks"),
		metrics:   m,
		freshness: freshness,
		now:       time.Now,
	}
	if cacheSize > 0 && freshness > 0 {
		if c, err := lru.New[string, cachedLookup](cacheSize); err == nil {
			r.cache = c
		}
	}
	return r
}

// IsBlocked reports whether ip is currently blocked. Store failures read as
// not blocked.
func (r *BlockRegistry) IsBlocked(ctx context.Context, ip string) bool {
	if ip == "" {
		return false
	}
	now := r.now()

	block, ok := r.cached(ip, now)
	if !ok {
		seen := r.generation()
		var err error
		block, err = r.lookup(ctx, ip)
		if err != nil {
			r.metrics.StoreError("get_block")
			r.logger.Warn("block lookup failed, allowing", zap.String("ip", ip), zap.Error(err))
			return false
		}
		r.remember(ip, seen, cachedLookup{block: block, fetchedAt: now})
	}

	if block == nil {
		return false
	}
	if block.Expired(now) {
		r.expire(ctx, ip, now)
		return false
	}
	return true
}

func (r *BlockRegistry) cached(ip string, now time.Time) (*models.BlockedIP, bool) {
	if r.cache == nil {
		return nil, false
	}
	entry, ok := r.cache.Get(ip)
	if !ok || now.Sub(entry.fetchedAt) >= r.freshness {
		return nil, false
	}
	return entry.block, true
}

func (r *BlockRegistry) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// remember caches a lookup unless a write landed since seen was taken.
func (r *BlockRegistry) remember(ip string, seen uint64, entry cachedLookup) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writes == seen {
		r.cache.Add(ip, entry)
	}
}

func (r *BlockRegistry) lookup(ctx context.Context, ip string) (*models.BlockedIP, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	block, err := r.store.GetBlock(ctx, ip)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return block, err
}

// expire removes an expired row. Losing a race to another reader is fine.
func (r *BlockRegistry) expire(ctx context.Context, ip string, now time.Time) {
	r.invalidate(ip)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	deleted, err := r.store.DeleteExpiredBlock(ctx, ip, now)
	if err != nil {
		r.metrics.StoreError("delete_expired_block")
		r.logger.Warn("expired block cleanup failed", zap.String("ip", ip), zap.Error(err))
		return
	}
	if deleted {
		r.logger.Info("expired block removed", zap.String("ip", ip))
	}
}

// Upsert creates or replaces the block for ip. A non-positive duration
// blocks permanently.
func (r *BlockRegistry) Upsert(ctx context.Context, ip, reason string, duration time.Duration) error {
	now := r.now().UTC()
	block := models.BlockedIP{
		IP:        ip,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if duration > 0 {
		expiresAt := now.Add(duration)
		block.ExpiresAt = &expiresAt
	} else {
		block.IsPermanent = true
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer r.invalidate(ip)
	return r.store.UpsertBlock(ctx, block)
}

// Remove deletes the block for ip. Removing an unknown ip is not an error.
func (r *BlockRegistry) Remove(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer r.invalidate(ip)
	return r.store.DeleteBlock(ctx, ip)
}

// ExpireIfLapsed is used by observers outside the request path, such as
// the cache expiry worker.
func (r *BlockRegistry) ExpireIfLapsed(ctx context.Context, ip string) {
	r.expire(ctx, ip, r.now())
}

// ListAll returns the live blocks. Expired rows are cleaned up on the way
// and an unavailable store yields an empty list.
func (r *BlockRegistry) ListAll(ctx context.Context) []models.BlockedIP {
	listCtx, cancel := context.WithTimeout(ctx, r.timeout)
	blocks, err := r.store.ListBlocks(listCtx)
	cancel()
	if err != nil {
		r.metrics.StoreError("list_blocks")
		r.logger.Warn("list blocks failed", zap.Error(err))
		return []models.BlockedIP{}
	}

	now := r.now()
	live := make([]models.BlockedIP, 0, len(blocks))
	for _, block := range blocks {
		if block.Expired(now) {
			r.expire(ctx, block.IP, now)
			continue
		}
		live = append(live, block)
	}
	return live
}

func (r *BlockRegistry) invalidate(ip string) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	r.writes++
	r.cache.Remove(ip)
	r.mu.Unlock()
}
