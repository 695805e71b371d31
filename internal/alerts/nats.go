package alerts

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"marketguard-backend/internal/models"
)

// SubjectPrefix is followed by the event type, e.g.
// security.alerts.THREAT_REACTION.
const SubjectPrefix = "security.alerts."

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATSNotifier publishes every event it is given as a msgpack Alert.
type NATSNotifier struct {
	pub Publisher
}

func NewNATSNotifier(pub Publisher) *NATSNotifier {
	return &NATSNotifier{pub: pub}
}

func (n *NATSNotifier) Name() string { return "nats" }

func (n *NATSNotifier) Notify(ctx context.Context, ev models.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(models.AlertFromEvent(ev))
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := n.pub.Publish(SubjectPrefix+ev.EventType, data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
