package transport

import (
	"bufio"
	"context"
	"net"

	"github.com/takrelay/aggregator/internal/config"
)

// TCP implements Transport over a plain TCP stream, newline-delimited
// (TAK's conventional framing for raw-socket CoT streams).
type TCP struct {
	cfg    config.ServerConfig
	conn   net.Conn
	reader *bufio.Reader
}

func NewTCP(cfg config.ServerConfig) *TCP { return &TCP{cfg: cfg} }

func (t *TCP) Open(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Endpoint)
	if err != nil {
		return err
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

func (t *TCP) ReadFrame(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return trimNewline(line), nil
}

func (t *TCP) WriteFrame(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	_, err := t.conn.Write(append(append([]byte{}, b...), '\n'))
	return err
}

func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func trimNewline(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}
