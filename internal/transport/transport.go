// Package transport provides the push-channel implementations feeding the
// synchronizer: a websocket frame stream and an AMQP private queue plus
// presence fanout. Both deliver raw frames; decoding and dedup live in the
// sync core, so either transport can be swapped in.
package transport

import "context"

// Handler receives transport callbacks. OnFrame is called per raw frame;
// OnClosed exactly once when an established connection dies (not for
// deliberate Close calls).
type Handler struct {
	OnFrame  func(raw []byte)
	OnClosed func(err error)
}

// Push is a connectable push channel.
type Push interface {
	// Connect dials and starts delivering frames. It returns once the
	// channel is established; delivery runs in the background.
	Connect(ctx context.Context, token string, h Handler) error
	// Close tears the channel down deterministically. Safe to call twice.
	Close() error
}
