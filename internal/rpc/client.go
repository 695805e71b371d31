package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"marketguard-backend/internal/models"
)

// AdmissionSubject carries admission checks from services that cannot
// embed the admission middleware.
const AdmissionSubject = "security.rpc.admission"

var (
	ErrUnavailable = errors.New("security engine is not responding")
	ErrTimeout     = errors.New("request timed out")
)

type Client struct {
	nc *nats.Conn
}

func NewClient(nc *nats.Conn) *Client {
	return &Client{nc: nc}
}

// CheckAdmission asks the engine whether ip may be served on path.
// Callers that get an error should admit the request.
func (c *Client) CheckAdmission(ip, path string, timeout time.Duration) (*models.AdmissionReply, error) {
	payload, err := msgpack.Marshal(&models.AdmissionRequest{V: 1, IP: ip, Path: path})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	msg, err := c.nc.Request(AdmissionSubject, payload, timeout)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrUnavailable
		}
		if errors.Is(err, nats.ErrTimeout) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("request: %w", err)
	}

	var resp models.AdmissionReply
	if err := msgpack.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}
