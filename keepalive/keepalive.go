// Package keepalive runs the periodic heartbeat that keeps a Futu
// OpenD connection from being treated as idle and closed. It tracks
// consecutive send failures and signals the client's receive loop once
// the socket looks dead, rather than discovering that indirectly.
//
// The heartbeat loop follows the same time.Ticker-driven periodic send
// under the write lock used by this module's transport layer. The
// failure-counting/terminal-signal shape differs from a simpler
// break-on-first-failure loop: three consecutive failures are required
// before the dead signal fires.
package keepalive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"futuopend/message"
	"futuopend/metrics"
)

const maxConsecutiveFailures = 3

// Sender is the minimal surface Driver needs from a connection: send a
// heartbeat body under the keepalive proto_id.
type Sender interface {
	Send(protoID uint32, body []byte) (uint32, error)
}

// Driver runs the ticking heartbeat. The channel returned by Dead is
// closed exactly once: when three consecutive sends fail.
type Driver struct {
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Collectors

	interval time.Duration
	dead     chan struct{}
}

// New builds a Driver. intervalSeconds comes from the handshake
// response and is clamped to a minimum of one second.
func New(sender Sender, intervalSeconds int32, logger *zap.Logger, mc *metrics.Collectors) *Driver {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval < time.Second {
		interval = time.Second
	}
	return &Driver{
		sender:   sender,
		logger:   logger,
		metrics:  mc,
		interval: interval,
		dead:     make(chan struct{}),
	}
}

// Dead is closed exactly once, the moment the keepalive loop gives up
// after three consecutive failures. The receive loop selects on it
// alongside recv() so it can treat keepalive death like a disconnect.
func (d *Driver) Dead() <-chan struct{} {
	return d.dead
}

// Run ticks until ctx is cancelled or three consecutive sends fail. It
// is meant to run in its own goroutine for the lifetime of a Ready
// client.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			body := message.EncodeKeepAlive(now)
			if _, err := d.sender.Send(message.ProtoIDKeepAlive, body); err != nil {
				failures++
				d.logger.Warn("keepalive send failed",
					zap.Int("consecutive_failures", failures), zap.Error(err))
				if d.metrics != nil {
					d.metrics.KeepaliveFailures.Inc()
				}
				if failures >= maxConsecutiveFailures {
					d.logger.Error("keepalive dead, giving up after consecutive failures",
						zap.Int("failures", failures))
					close(d.dead)
					return
				}
				continue
			}
			failures = 0
			d.logger.Debug("keepalive sent", zap.Int64("time", now))
		}
	}
}
