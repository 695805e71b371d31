package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"marketguard-backend/internal/metrics"
)

// BlockChecker is satisfied by *security.BlockRegistry.
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) bool
}

// LockdownChecker is satisfied by *security.Analyzer.
type LockdownChecker interface {
	CheckLockdownStatus(ctx context.Context) bool
}

// Admission rejects blocked IPs with 403 and, during an emergency
// lockdown, every path outside allowPrefixes with 503. Both checks fail
// open.
func Admission(blocks BlockChecker, lockdown LockdownChecker, allowPrefixes []string, proxies *ProxyTrust, m *metrics.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxies.ClientIP(r)
			if ip != "" && blocks.IsBlocked(r.Context(), ip) {
				m.Rejected("blocked")
				logger.Debug("rejected blocked ip", zap.String("ip", ip), zap.String("path", r.URL.Path))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if !allowed(r.URL.Path, allowPrefixes) && lockdown.CheckLockdownStatus(r.Context()) {
				m.Rejected("lockdown")
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Service temporarily locked down", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowed matches whole path segments: "/v1/security" covers
// "/v1/security" and "/v1/security/status" but not "/v1/securityX".
func allowed(path string, prefixes []string) bool {
	for _, p := range prefixes {
		base := strings.TrimSuffix(p, "/")
		if path == p || path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}
