package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketguard-backend/internal/config"
	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/models"
	"marketguard-backend/internal/storage"
)

const (
	RuleBruteForce = "brute_force"
	RuleScanning   = "scanning"
)

type rule struct {
	name      string
	eventType string
	reason    string
	threshold int
	duration  time.Duration
	whitelist map[string]struct{}
	reaction  bool
}

func newRule(name, eventType, reason string, cfg config.RuleConfig) rule {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		wl[ip] = struct{}{}
	}
	return rule{
		name:      name,
		eventType: eventType,
		reason:    reason,
		threshold: cfg.Threshold,
		duration:  time.Duration(cfg.BlockMinutes) * time.Minute,
		whitelist: wl,
		reaction:  cfg.ReactionEvent,
	}
}

// Report lists what one analyzer pass did.
type Report struct {
	Blocked map[string][]string
	Errors  map[string]error
}

// Analyzer applies the threshold rules over a trailing window of events.
type Analyzer struct {
	events   *EventLog
	enforcer *Enforcer
	configs  storage.ConfigStore
	window   time.Duration
	rules    []rule
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewAnalyzer(cfg config.AnalyzerConfig, events *EventLog, enforcer *Enforcer, configs storage.ConfigStore, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Analyzer {
	return &Analyzer{
		events:   events,
		enforcer: enforcer,
		configs:  configs,
		window:   cfg.Window,
		rules: []rule{
			newRule(RuleBruteForce, models.EventUnauthorizedAccess, "Brute force detected", cfg.BruteForce),
			newRule(RuleScanning, models.EventNotFoundScan, "Endpoint scanning detected", cfg.Scanning),
		},
		timeout: timeout,
		logger:  logger.Named("analyzer"),
		metrics: m,
		now:     time.Now,
	}
}

// Run evaluates every rule once. A rule whose counts cannot be read is
// skipped without affecting the others.
func (a *Analyzer) Run(ctx context.Context) Report {
	report := Report{
		Blocked: make(map[string][]string),
		Errors:  make(map[string]error),
	}
	since := a.now().Add(-a.window)

	for _, r := range a.rules {
		blocked, err := a.apply(ctx, r, since)
		if err != nil {
			a.metrics.RuleError(r.name)
			a.logger.Warn("analyzer rule skipped", zap.String("rule", r.name), zap.Error(err))
			report.Errors[r.name] = err
			continue
		}
		if len(blocked) > 0 {
			report.Blocked[r.name] = blocked
		}
	}

	a.metrics.AnalyzerRun()
	return report
}

func (a *Analyzer) apply(ctx context.Context, r rule, since time.Time) (blocked []string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule %s panicked: %v", r.name, p)
		}
	}()

	counts, err := a.events.CountSince(ctx, r.eventType, since)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", r.eventType, err)
	}

	ips := make([]string, 0, len(counts))
	for ip := range counts {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	for _, ip := range ips {
		count := counts[ip]
		if count <= r.threshold {
			continue
		}
		if _, ok := r.whitelist[ip]; ok {
			a.logger.Debug("whitelisted ip over threshold",
				zap.String("rule", r.name), zap.String("ip", ip), zap.Int("count", count))
			continue
		}

		if !a.enforcer.Block(ctx, ip, r.reason, r.duration) {
			continue
		}
		blocked = append(blocked, ip)
		a.logger.Warn("threat detected",
			zap.String("rule", r.name), zap.String("ip", ip), zap.Int("count", count))

		if r.reaction {
			ipCopy := ip
			desc := fmt.Sprintf("Blocked %s for %s: %s (%d %s events in %s)",
				ip, r.duration, r.reason, count, r.eventType, a.window)
			ev := models.SecurityEvent{
				Level:       models.LevelCritical,
				EventType:   models.EventThreatReaction,
				Description: desc,
				IP:          &ipCopy,
				Metadata: models.Blob{
					"rule":     r.name,
					"count":    count,
					"duration": r.duration.String(),
				},
			}
			ev.ID = a.events.Append(ctx, ev)
			a.enforcer.Notify(ctx, ev)
		}
	}
	return blocked, nil
}

// CheckLockdownStatus reads the emergency lockdown flag. Missing or
// unreadable values read as false.
func (a *Analyzer) CheckLockdownStatus(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	value, err := a.configs.GetConfig(ctx, models.LockdownKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.metrics.StoreError("get_config")
			a.logger.Warn("lockdown status read failed", zap.Error(err))
		}
		return false
	}
	enabled, err := strconv.ParseBool(value)
	return err == nil && enabled
}

// ToggleLockdown sets the lockdown flag through the enforcer.
func (a *Analyzer) ToggleLockdown(ctx context.Context, enabled bool) bool {
	return a.enforcer.SetLockdown(ctx, enabled)
}
