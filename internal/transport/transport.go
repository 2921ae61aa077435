// Package transport implements the per-protocol Transport capability the
// connection pool consumes abstractly (spec §6.1): an outbound full-duplex
// endpoint that produces and consumes whole frames. Framing (newline,
// length-prefix, WebSocket, datagram) is each implementation's own concern.
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/takrelay/aggregator/internal/config"
)

// ErrEOF is returned by ReadFrame when the remote end closed the stream
// cleanly.
var ErrEOF = io.EOF

// Transport is the abstract capability a connection task drives. A new
// Transport value is created per connect attempt; Open performs the
// protocol handshake (TCP dial, TLS handshake, WS upgrade, ...).
type Transport interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, b []byte) error
	Close() error
}

// Factory builds a fresh Transport for one server configuration. A fresh
// value is requested on every (re)connect attempt so transports never need
// to support being reopened.
type Factory func(cfg config.ServerConfig) (Transport, error)

// NewFactory dispatches on cfg.Protocol to the concrete implementation.
func NewFactory() Factory {
	return func(cfg config.ServerConfig) (Transport, error) {
		switch cfg.Protocol {
		case "tcp":
			return NewTCP(cfg), nil
		case "tls":
			return NewTLS(cfg), nil
		case "udp":
			return NewUDP(cfg), nil
		case "multicast":
			return NewMulticastUDP(cfg), nil
		case "ws":
			return NewWebSocket(cfg), nil
		default:
			return nil, errors.New("transport: unknown protocol " + cfg.Protocol)
		}
	}
}
