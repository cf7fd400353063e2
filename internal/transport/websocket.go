package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket is the gorilla-backed push channel. The gateway multiplexes
// direct-message and presence frames onto one stream, distinguished by the
// frame envelope.
type WebSocket struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket builds a websocket transport for the given endpoint.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{url: url}
}

// Connect dials the gateway with the bearer credential and starts the read
// loop.
func (w *WebSocket) Connect(ctx context.Context, token string, h Handler) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	w.mu.Lock()
	w.closed = false
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn, h)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, h Handler) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			deliberate := w.closed
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()

			if !deliberate && h.OnClosed != nil {
				h.OnClosed(err)
			}
			return
		}
		if h.OnFrame != nil {
			h.OnFrame(payload)
		}
	}
}

// Close shuts the connection down. The pending read unblocks immediately
// and the read loop exits without reporting a transport error.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
