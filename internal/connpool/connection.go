package connpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/distributor"
	"github.com/takrelay/aggregator/internal/frame"
)

type ConnectionID = string

// Stats is a point-in-time snapshot of a Connection's atomic counters.
type Stats struct {
	ID          ConnectionID
	State       ConnState
	BytesIn     uint64
	BytesOut    uint64
	MsgsIn      uint64
	MsgsOut     uint64
	Errors      uint64
	Reconnects  uint64
	LastActivity time.Time
}

// Connection is a single pooled outbound link to one TAK server. Its
// inbound/outbound channels are allocated once at construction and live for
// the Connection's entire lifetime (spec invariant: a reconnect replaces the
// transport, never the channels), mirroring the teacher's long-lived
// per-session mailbox.
type Connection struct {
	id  ConnectionID
	cfg config.ServerConfig

	state atomic.Int32

	inbound  chan frame.Frame
	outbound chan frame.Frame

	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	msgsIn       atomic.Uint64
	msgsOut      atomic.Uint64
	errorCount   atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(cfg config.ServerConfig) *Connection {
	cap := cfg.ChannelCapacity
	if cap <= 0 {
		cap = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       cfg.ID,
		cfg:      cfg,
		inbound:  make(chan frame.Frame, cap),
		outbound: make(chan frame.Frame, cap),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

func (c *Connection) ID() ConnectionID { return c.id }

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// AutoReconnect reports whether this connection was configured for
// automatic reconnect. A Failed connection with auto_reconnect=false is
// terminal until an admin re-adds it explicitly.
func (c *Connection) AutoReconnect() bool { return c.cfg.AutoReconnect }

func (c *Connection) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Connection) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Inbound is the channel the aggregator reads frames from.
func (c *Connection) Inbound() <-chan frame.Frame { return c.inbound }

// EnqueueOutbound applies strategy to push f onto the connection's outbound
// channel, which the connection's write loop drains. This is the method the
// distributor calls through its own ConnectionSender interface, so
// distributor never needs to import connpool. dropped reports a
// strategy-defined drop (not an error per spec's Backpressure kind).
func (c *Connection) EnqueueOutbound(f frame.Frame, strategy distributor.Strategy, timeout time.Duration) (dropped bool, err error) {
	return distributor.Enqueue(c.ctx, c.outbound, f, strategy, timeout)
}

func (c *Connection) Stats() Stats {
	return Stats{
		ID:           c.id,
		State:        c.State(),
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		MsgsIn:       c.msgsIn.Load(),
		MsgsOut:      c.msgsOut.Load(),
		Errors:       c.errorCount.Load(),
		Reconnects:   c.reconnects.Load(),
		LastActivity: c.LastActivity(),
	}
}
