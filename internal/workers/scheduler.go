package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketguard-backend/internal/security"
)

type ThreatAnalyzer interface {
	Run(ctx context.Context) security.Report
}

type AgentTicker interface {
	Tick(ctx context.Context) bool
}

// StartThreatAnalyzer runs one analyzer pass per interval until ctx is done.
// A pass in progress is not interrupted by cancellation.
func StartThreatAnalyzer(ctx context.Context, analyzer ThreatAnalyzer, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report := analyzer.Run(context.WithoutCancel(ctx))
				for rule, ips := range report.Blocked {
					logger.Info("analyzer pass blocked ips", zap.String("rule", rule), zap.Strings("ips", ips))
				}
			}
		}
	}()
	logger.Info("threat analyzer started", zap.Duration("interval", interval))
}

// StartAgentMonitor gives the remediation agent a chance to start a cycle
// once per interval.
func StartAgentMonitor(ctx context.Context, agent AgentTicker, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if agent.Tick(ctx) {
					logger.Info("remediation agent found anomalies")
				}
			}
		}
	}()
	logger.Info("agent monitor started", zap.Duration("interval", interval))
}
