package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"marketguard-backend/internal/models"
)

const (
	OutcomeSubject = "security.outcomes.>"
	durableName    = "marketguard-ingest"
)

var ErrMalformed = errors.New("malformed outcome")

// Observer is satisfied by *security.Ingestor.
type Observer interface {
	Observe(ctx context.Context, o models.RequestOutcome) *models.SecurityEvent
}

// fetcher is satisfied by *nats.Subscription.
type fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Drain() error
}

// OutcomeConsumer feeds request outcomes reported by remote services over
// JetStream into the ingestion point.
type OutcomeConsumer struct {
	js         nats.JetStreamContext
	observer   Observer
	logger     *zap.Logger
	sub        fetcher
	retryDelay time.Duration
}

func NewOutcomeConsumer(js nats.JetStreamContext, observer Observer, logger *zap.Logger) *OutcomeConsumer {
	return &OutcomeConsumer{js: js, observer: observer, logger: logger, retryDelay: time.Second}
}

// Start begins consuming outcomes from JetStream.
func (c *OutcomeConsumer) Start(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(
		OutcomeSubject,
		durableName,
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(3),
		nats.MaxAckPending(1000),
	)
	if err != nil {
		return err
	}
	c.sub = sub

	go c.consumeLoop(ctx)
	c.logger.Info("outcome consumer started", zap.String("subject", OutcomeSubject))
	return nil
}

func (c *OutcomeConsumer) consumeLoop(ctx context.Context) {
	fetch := newFetchSizer(64, 8, 512)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(fetch.size, nats.MaxWait(5*time.Second))
		if err != nil {
			fetch.observe(0)
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Warn("fetch error", zap.Error(err))
			if !sleepCtx(ctx, c.retryDelay) {
				return
			}
			continue
		}
		fetch.observe(len(msgs))

		for _, msg := range msgs {
			c.processMessage(ctx, msg)
		}
	}
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *OutcomeConsumer) processMessage(ctx context.Context, msg *nats.Msg) {
	err := c.handle(ctx, msg.Data)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrMalformed):
		c.logger.Error("dropping outcome", zap.String("subject", msg.Subject), zap.Error(err))
		_ = msg.Term()
	default:
		c.logger.Warn("process error", zap.Error(err))
		_ = msg.NakWithDelay(5 * time.Second)
	}
}

func (c *OutcomeConsumer) handle(ctx context.Context, data []byte) error {
	var outcome models.RequestOutcome
	if err := msgpack.Unmarshal(data, &outcome); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if outcome.Status == 0 {
		return fmt.Errorf("%w: missing status", ErrMalformed)
	}

	if ev := c.observer.Observe(ctx, outcome); ev != nil {
		c.logger.Debug("outcome classified",
			zap.String("service", outcome.Service), zap.String("type", ev.EventType), zap.String("ip", outcome.IP))
	}
	return nil
}

// Stop drains the subscription.
func (c *OutcomeConsumer) Stop() error {
	if c.sub != nil {
		return c.sub.Drain()
	}
	return nil
}

// fetchSizer halves the batch after three empty fetches and doubles it
// after three full ones.
type fetchSizer struct {
	size, min, max int
	full, empty    int
}

func newFetchSizer(size, lo, hi int) *fetchSizer {
	return &fetchSizer{size: size, min: lo, max: hi}
}

func (f *fetchSizer) observe(n int) {
	switch {
	case n == 0:
		f.empty++
		f.full = 0
		if f.empty >= 3 && f.size > f.min {
			f.size = max(f.size/2, f.min)
			f.empty = 0
		}
	case n == f.size:
		f.full++
		f.empty = 0
		if f.full >= 3 && f.size < f.max {
			f.size = min(f.size*2, f.max)
			f.full = 0
		}
	default:
		f.full = 0
		f.empty = 0
	}
}
