package middleware

import (
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const localLimiterCapacity = 16384

// Counter is satisfied by *cache.RedisCache.
type Counter interface {
	IncrWithTTL(key string, ttl time.Duration) (int64, error)
}

// RateLimit allows limit requests per window for each client IP using a
// shared fixed-window counter. Counter errors let the request through.
func RateLimit(counter Counter, limit int, window time.Duration, proxies *ProxyTrust, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:api:" + proxies.ClientIP(r)
			count, err := counter.IncrWithTTL(key, window)
			if err != nil {
				logger.Debug("rate limit counter unavailable", zap.Error(err))
			} else if count > int64(limit) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LocalRateLimit is the in-process equivalent of RateLimit for single
// node deployments without redis.
func LocalRateLimit(limit int, window time.Duration, proxies *ProxyTrust) func(http.Handler) http.Handler {
	l := newLocalLimiter(limit, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(proxies.ClientIP(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type localLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	every    rate.Limit
	burst    int
}

func newLocalLimiter(limit int, window time.Duration) *localLimiter {
	limiters, _ := lru.New[string, *rate.Limiter](localLimiterCapacity)
	return &localLimiter{
		limiters: limiters,
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

func (l *localLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters.Add(ip, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}
