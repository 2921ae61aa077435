package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/takrelay/aggregator/internal/config"
)

// WebSocket implements Transport by dialing out to a TAK server's CoT
// WebSocket endpoint. One text/binary message is one frame; no additional
// framing is applied since gorilla/websocket already delivers whole
// messages.
type WebSocket struct {
	cfg   config.ServerConfig
	conn  *websocket.Conn
	dialr *websocket.Dialer
}

func NewWebSocket(cfg config.ServerConfig) *WebSocket {
	return &WebSocket{
		cfg: cfg,
		dialr: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (w *WebSocket) Open(ctx context.Context) error {
	header := http.Header{}
	conn, _, err := w.dialr.DialContext(ctx, w.cfg.Endpoint, header)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *WebSocket) ReadFrame(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(dl)
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (w *WebSocket) WriteFrame(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *WebSocket) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
