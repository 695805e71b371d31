package security

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/models"
	"marketguard-backend/internal/storage"
)

// FeedPublisher receives every event after it is persisted.
type FeedPublisher interface {
	Publish(msg models.FeedMessage)
}

// EventLog is the best-effort front of the event store. Appends never fail
// the caller; a store failure is logged and the event is dropped.
type EventLog struct {
	store   storage.EventStore
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	feed    FeedPublisher
	now     func() time.Time
}

func NewEventLog(store storage.EventStore, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *EventLog {
	return &EventLog{
		store:   store,
		timeout: timeout,
		logger:  logger.Named("eventlog"),
		metrics: m,
		now:     time.Now,
	}
}

// SetFeed attaches a live subscriber feed.
func (l *EventLog) SetFeed(feed FeedPublisher) {
	l.feed = feed
}

// Append assigns an id and timestamp when missing and persists ev.
// The id is returned even if the write failed.
func (l *EventLog) Append(ctx context.Context, ev models.SecurityEvent) string {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.AppendEvent(ctx, &ev); err != nil {
		l.metrics.StoreError("append_event")
		l.logger.Warn("append security event failed",
			zap.String("type", ev.EventType), zap.String("ip", ev.IPValue()), zap.Error(err))
		return ev.ID
	}

	l.metrics.EventAppended(ev.EventType, string(ev.Level))
	if l.feed != nil {
		l.feed.Publish(models.FeedMessage{Kind: "event", Event: &ev})
	}
	return ev.ID
}

// Recent returns up to limit events, newest first. It returns an empty
// slice when the store is unavailable.
func (l *EventLog) Recent(ctx context.Context, limit int) []models.SecurityEvent {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	events, err := l.store.RecentEvents(ctx, limit)
	if err != nil {
		l.metrics.StoreError("recent_events")
		l.logger.Warn("read recent events failed", zap.Error(err))
		return []models.SecurityEvent{}
	}
	return events
}

// CountSince returns per-ip counts of eventType since the given instant.
func (l *EventLog) CountSince(ctx context.Context, eventType string, since time.Time) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	counts, err := l.store.CountEventsSince(ctx, eventType, since)
	if err != nil {
		l.metrics.StoreError("count_events")
		return nil, err
	}
	return counts, nil
}
