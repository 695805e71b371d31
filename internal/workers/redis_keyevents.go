package workers

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketguard-backend/internal/cache"
)

type ExpirySubscriber interface {
	SubscribeExpired() (*redis.PubSub, error)
}

// BlockExpirer is satisfied by *security.BlockRegistry.
type BlockExpirer interface {
	ExpireIfLapsed(ctx context.Context, ip string)
}

// StartRedisKeyeventWorker subscribes to Redis key expiration events and
// removes the matching lapsed blocks. Returns true when the subscription
// is active.
func StartRedisKeyeventWorker(ctx context.Context, sub ExpirySubscriber, blocks BlockExpirer, logger *zap.Logger) bool {
	pubsub, err := sub.SubscribeExpired()
	if err != nil {
		logger.Warn("redis keyevent subscribe failed", zap.Error(err))
		return false
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok || msg == nil {
					return
				}
				handleExpired(ctx, blocks, msg)
			}
		}
	}()

	logger.Info("redis keyevent worker started")
	return true
}

func handleExpired(ctx context.Context, blocks BlockExpirer, msg *redis.Message) {
	if msg == nil {
		return
	}
	ip, ok := cache.BlockedIPFromKey(msg.Payload)
	if !ok {
		return
	}
	blocks.ExpireIfLapsed(ctx, ip)
}
