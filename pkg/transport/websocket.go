package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsDialTimeout  = 5 * time.Second
)

// WebSocket carries envelopes as text frames over a client connection
// the content view dials to its host.
type WebSocket struct {
	*base

	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}

	startOnce sync.Once
}

// DialWebSocket connects to the host at url. A failed dial is not an
// error for the caller: it means no host is attached, and a Detached
// transport is returned alongside the dial error for logging. Call Start
// on a connected transport once handlers are subscribed.
func DialWebSocket(ctx context.Context, url string, header http.Header, ns protocol.Namespace) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsDialTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		logger.WarnCF("transport", "Host not reachable, running detached", map[string]any{
			"url":   url,
			"error": err.Error(),
		})
		return NewDetached(), err
	}
	return NewWebSocket(conn, ns), nil
}

// NewWebSocket wraps an established connection. Call Start to begin
// reading.
func NewWebSocket(conn *websocket.Conn, ns protocol.Namespace) *WebSocket {
	conn.SetReadLimit(protocol.MaxMessageSize)
	return &WebSocket{
		base: newBase("websocket", ns, true),
		conn: conn,
		done: make(chan struct{}),
	}
}

func (w *WebSocket) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go func() {
			defer close(w.done)
			w.readLoop(ctx)
		}()
	})
}

func (w *WebSocket) Done() <-chan struct{} { return w.done }

func (w *WebSocket) Send(msg protocol.Message) error {
	if w.closed.Load() {
		return ErrTransportClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) Close() error {
	if !w.shutdown() {
		return nil
	}
	w.writeMu.Lock()
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WebSocket) readLoop(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			w.Close()
		case <-w.done:
		}
	}()

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if !w.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.ErrorCF("transport", "WebSocket read failed", map[string]any{"error": err.Error()})
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		w.dispatchRaw(data)
	}
}

var _ Transport = (*WebSocket)(nil)
