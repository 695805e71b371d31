package rpc

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"marketguard-backend/internal/models"
)

const queueGroup = "marketguard"

type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) bool
}

type LockdownChecker interface {
	CheckLockdownStatus(ctx context.Context) bool
}

// Responder answers admission checks over NATS request/reply.
type Responder struct {
	blocks        BlockChecker
	lockdown      LockdownChecker
	allowPrefixes []string
	timeout       time.Duration
	logger        *zap.Logger
	sub           *nats.Subscription
}

func NewResponder(blocks BlockChecker, lockdown LockdownChecker, allowPrefixes []string, timeout time.Duration, logger *zap.Logger) *Responder {
	return &Responder{
		blocks:        blocks,
		lockdown:      lockdown,
		allowPrefixes: allowPrefixes,
		timeout:       timeout,
		logger:        logger,
	}
}

func (r *Responder) Start(nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(AdmissionSubject, queueGroup, func(msg *nats.Msg) {
		if err := msg.Respond(r.handle(msg.Data)); err != nil {
			r.logger.Warn("admission reply failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	r.sub = sub
	r.logger.Info("admission responder started", zap.String("subject", AdmissionSubject))
	return nil
}

func (r *Responder) Stop() error {
	if r.sub != nil {
		return r.sub.Drain()
	}
	return nil
}

func (r *Responder) handle(data []byte) []byte {
	var req models.AdmissionRequest
	var reply models.AdmissionReply
	if err := msgpack.Unmarshal(data, &req); err != nil {
		reply = models.AdmissionReply{Allowed: true, Error: "malformed request"}
	} else {
		reply = r.decide(req)
	}

	out, err := msgpack.Marshal(&reply)
	if err != nil {
		r.logger.Error("encode admission reply", zap.Error(err))
		return nil
	}
	return out
}

func (r *Responder) decide(req models.AdmissionRequest) models.AdmissionReply {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply := models.AdmissionReply{Allowed: true}
	if req.IP != "" && r.blocks.IsBlocked(ctx, req.IP) {
		reply.Blocked = true
		reply.Allowed = false
		return reply
	}
	reply.Lockdown = r.lockdown.CheckLockdownStatus(ctx)
	if reply.Lockdown && !r.exempt(req.Path) {
		reply.Allowed = false
	}
	return reply
}

// exempt matches whole path segments, so "/v1/security" does not cover
// "/v1/securityX".
func (r *Responder) exempt(path string) bool {
	for _, p := range r.allowPrefixes {
		base := strings.TrimSuffix(p, "/")
		if path == p || path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}
