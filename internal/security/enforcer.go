package security

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/models"
	"marketguard-backend/internal/storage"
)

// Notifier delivers an enforcement event to an external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev models.SecurityEvent) error
}

// BlockMirror keeps a fast-path copy of blocks outside the database.
// A zero ttl means the block never expires.
type BlockMirror interface {
	MirrorBlock(ctx context.Context, ip string, ttl time.Duration) error
	ClearBlock(ctx context.Context, ip string) error
}

// Enforcer is the only writer of blocks and of the lockdown flag. Every
// failure is logged and reported as a false result, never returned.
type Enforcer struct {
	blocks    *BlockRegistry
	configs   storage.ConfigStore
	events    *EventLog
	notifiers []Notifier
	mirror    BlockMirror
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewEnforcer(blocks *BlockRegistry, configs storage.ConfigStore, events *EventLog, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Enforcer {
	return &Enforcer{
		blocks:  blocks,
		configs: configs,
		events:  events,
		timeout: timeout,
		logger:  logger.Named("enforcer"),
		metrics: m,
	}
}

// AddNotifier registers an alert channel.
func (e *Enforcer) AddNotifier(n Notifier) {
	e.notifiers = append(e.notifiers, n)
}

// SetMirror attaches a block mirror.
func (e *Enforcer) SetMirror(m BlockMirror) {
	e.mirror = m
}

// Block upserts a block for ip. A non-positive duration is permanent.
func (e *Enforcer) Block(ctx context.Context, ip, reason string, duration time.Duration) bool {
	if ip == "" {
		return false
	}
	if err := e.blocks.Upsert(ctx, ip, reason, duration); err != nil {
		e.metrics.StoreError("upsert_block")
		e.logger.Warn("block failed", zap.String("ip", ip), zap.String("reason", reason), zap.Error(err))
		return false
	}

	e.metrics.BlockApplied(reason)
	e.logger.Info("ip blocked",
		zap.String("ip", ip), zap.String("reason", reason), zap.Duration("duration", duration))

	if e.mirror != nil {
		ttl := duration
		if ttl < 0 {
			ttl = 0
		}
		if err := e.mirror.MirrorBlock(ctx, ip, ttl); err != nil {
			e.logger.Warn("block mirror failed", zap.String("ip", ip), zap.Error(err))
		}
	}
	return true
}

// Unblock removes any block for ip.
func (e *Enforcer) Unblock(ctx context.Context, ip string) bool {
	if err := e.blocks.Remove(ctx, ip); err != nil {
		e.metrics.StoreError("delete_block")
		e.logger.Warn("unblock failed", zap.String("ip", ip), zap.Error(err))
		return false
	}
	e.logger.Info("ip unblocked", zap.String("ip", ip))

	if e.mirror != nil {
		if err := e.mirror.ClearBlock(ctx, ip); err != nil {
			e.logger.Warn("block mirror clear failed", zap.String("ip", ip), zap.Error(err))
		}
	}
	return true
}

// SetLockdown overwrites the lockdown flag and records a SYSTEM_LOCKDOWN
// event. Nothing is recorded if the flag could not be written.
func (e *Enforcer) SetLockdown(ctx context.Context, enabled bool) bool {
	setCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.configs.SetConfig(setCtx, models.LockdownKey, strconv.FormatBool(enabled))
	cancel()
	if err != nil {
		e.metrics.StoreError("set_config")
		e.logger.Warn("lockdown toggle failed", zap.Bool("enabled", enabled), zap.Error(err))
		return false
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	ev := models.SecurityEvent{
		Level:       models.LevelCritical,
		EventType:   models.EventSystemLockdown,
		Description: fmt.Sprintf("Emergency lockdown %s", state),
		Metadata:    models.Blob{"enabled": enabled},
	}
	ev.ID = e.events.Append(ctx, ev)
	e.logger.Warn("emergency lockdown toggled", zap.Bool("enabled", enabled))
	e.Notify(ctx, ev)
	return true
}

// Notify fans ev out to every notifier. Delivery failures are logged only.
func (e *Enforcer) Notify(ctx context.Context, ev models.SecurityEvent) {
	for _, n := range e.notifiers {
		nctx, cancel := context.WithTimeout(ctx, e.timeout)
		err := n.Notify(nctx, ev)
		cancel()
		if err != nil {
			e.metrics.NotifyError(n.Name())
			e.logger.Warn("alert delivery failed",
				zap.String("notifier", n.Name()), zap.String("type", ev.EventType), zap.Error(err))
		}
	}
}
