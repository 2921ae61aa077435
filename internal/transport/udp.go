package transport

import (
	"context"
	"net"

	"github.com/takrelay/aggregator/internal/config"
)

// maxDatagramSize bounds a single inbound CoT UDP datagram. TAK's
// conventional mesh SA broadcast payloads are well under this.
const maxDatagramSize = 65507

// UDP implements Transport over a connected UDP socket. Unlike TCP there is
// no stream to frame: each WriteFrame is one datagram and each ReadFrame
// returns exactly one received datagram.
type UDP struct {
	cfg  config.ServerConfig
	conn *net.UDPConn
}

func NewUDP(cfg config.ServerConfig) *UDP { return &UDP{cfg: cfg} }

func (u *UDP) Open(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", u.cfg.Endpoint)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	u.conn = conn
	return nil
}

func (u *UDP) ReadFrame(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = u.conn.SetReadDeadline(dl)
	}
	buf := make([]byte, maxDatagramSize)
	n, err := u.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (u *UDP) WriteFrame(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = u.conn.SetWriteDeadline(dl)
	}
	_, err := u.conn.Write(b)
	return err
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

// MulticastUDP implements Transport for TAK's mesh SA multicast group
// (e.g. 239.2.3.1:6969), joining the group for inbound reads and sending
// outbound frames to the same group address.
type MulticastUDP struct {
	cfg      config.ServerConfig
	group    *net.UDPAddr
	recvConn *net.UDPConn
	sendConn *net.UDPConn
}

func NewMulticastUDP(cfg config.ServerConfig) *MulticastUDP { return &MulticastUDP{cfg: cfg} }

func (m *MulticastUDP) Open(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp", m.cfg.Endpoint)
	if err != nil {
		return err
	}
	m.group = group

	recvConn, err := net.ListenMulticastUDP("udp", nil, group)
	if err != nil {
		return err
	}
	recvConn.SetReadBuffer(maxDatagramSize)
	m.recvConn = recvConn

	sendConn, err := net.DialUDP("udp", nil, group)
	if err != nil {
		_ = recvConn.Close()
		return err
	}
	m.sendConn = sendConn

	return nil
}

func (m *MulticastUDP) ReadFrame(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = m.recvConn.SetReadDeadline(dl)
	}
	buf := make([]byte, maxDatagramSize)
	n, _, err := m.recvConn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (m *MulticastUDP) WriteFrame(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = m.sendConn.SetWriteDeadline(dl)
	}
	_, err := m.sendConn.Write(b)
	return err
}

func (m *MulticastUDP) Close() error {
	var err error
	if m.sendConn != nil {
		err = m.sendConn.Close()
	}
	if m.recvConn != nil {
		if rerr := m.recvConn.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
