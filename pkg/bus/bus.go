// Package bus decouples event classification from delivery. The
// orchestrator publishes outbound sends onto a bounded queue and the
// dispatcher drains it, so a slow destination backs pressure up to the
// publisher instead of blocking the platform listener mid-callback.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed SendBus.
var ErrBusClosed = errors.New("send bus closed")

type SendBus struct {
	sends  chan OutboundSend
	done   chan struct{}
	closed atomic.Bool
}

func NewSendBus() *SendBus {
	return &SendBus{
		sends: make(chan OutboundSend, 100),
		done:  make(chan struct{}),
	}
}

func (sb *SendBus) Publish(ctx context.Context, send OutboundSend) error {
	if sb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case sb.sends <- send:
		return nil
	case <-sb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sb *SendBus) Consume(ctx context.Context) (OutboundSend, bool) {
	select {
	case send, ok := <-sb.sends:
		return send, ok
	case <-sb.done:
		return OutboundSend{}, false
	case <-ctx.Done():
		return OutboundSend{}, false
	}
}

func (sb *SendBus) Close() {
	if sb.closed.CompareAndSwap(false, true) {
		close(sb.done)
	}
}
