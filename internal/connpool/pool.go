// Package connpool manages the set of outbound connections to TAK servers:
// one long-lived Connection and driving task goroutine per configured
// server, addressable by ConnectionID, bounded by max_connections.
package connpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takrelay/aggregator/internal/config"
	takerrors "github.com/takrelay/aggregator/internal/errors"
	"github.com/takrelay/aggregator/internal/distributor"
	"github.com/takrelay/aggregator/internal/frame"
	"github.com/takrelay/aggregator/internal/transport"
)

// PoolStats summarizes the pool's current membership.
type PoolStats struct {
	Total     int
	Connected int
	Connecting int
	Reconnecting int
	Failed    int
}

// Pool is the external API a connection pool exposes to the aggregator,
// distributor, and REST/WS adapters.
type Pool interface {
	AddConnection(ctx context.Context, cfg config.ServerConfig) (ConnectionID, error)
	RemoveConnection(ctx context.Context, id ConnectionID) error
	Connection(id ConnectionID) (*Connection, bool)
	All() []*Connection
	ConnectionIDs() []string
	EnqueueOutbound(id ConnectionID, f frame.Frame, strategy distributor.Strategy, timeout time.Duration) (dropped bool, err error)
	Broadcast(f frame.Frame, strategy distributor.Strategy, timeout time.Duration) int
	Shutdown(ctx context.Context) error
	Stats() PoolStats
	// Restart re-adds a Failed connection under its original configuration.
	// It is a no-op (returning nil) for any other state, and for a Failed
	// connection whose configuration has auto_reconnect=false (spec: Failed
	// is terminal for manual-reconnect mode, re-entered only by admin action).
	Restart(ctx context.Context, id ConnectionID) error
}

type pool struct {
	mu             sync.Mutex
	conns          sync.Map // ConnectionID -> *Connection
	count          int
	maxConnections int
	factory        transport.Factory
	logger         *slog.Logger
	shutdownTO     time.Duration
}

// New constructs a Pool bounded by cfg.Application.MaxConnections.
func New(cfg config.ApplicationConfig, factory transport.Factory, logger *slog.Logger) Pool {
	return &pool{
		maxConnections: cfg.MaxConnections,
		factory:        factory,
		logger:         logger.With("component", "connpool"),
		shutdownTO:     cfg.ShutdownTimeout(),
	}
}

// AddConnection registers a new connection and starts its task goroutine.
// Only one task may ever exist per ConnectionID: a duplicate ID is rejected
// outright rather than silently replacing the running task.
func (p *pool) AddConnection(ctx context.Context, cfg config.ServerConfig) (ConnectionID, error) {
	const op = "connpool.AddConnection"

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.conns.Load(cfg.ID); exists {
		return "", takerrors.Wrap(op, takerrors.KindConfig, errAlreadyExists(cfg.ID))
	}
	if p.count >= p.maxConnections {
		return "", takerrors.AtCapacity(op)
	}

	conn := newConnection(cfg)
	p.conns.Store(cfg.ID, conn)
	p.count++

	t := newTask(conn, cfg, p.factory, p.logger)
	go t.run()

	return conn.ID(), nil
}

// RemoveConnection stops and unregisters a connection. Removing an unknown
// or already-removed ID is a no-op success (idempotent per spec).
func (p *pool) RemoveConnection(ctx context.Context, id ConnectionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.conns.LoadAndDelete(id)
	if !ok {
		return nil
	}
	conn := v.(*Connection)
	conn.cancel()
	p.count--
	return nil
}

func (p *pool) Restart(ctx context.Context, id ConnectionID) error {
	conn, ok := p.Connection(id)
	if !ok || conn.State() != StateFailed || !conn.AutoReconnect() {
		return nil
	}
	cfg := conn.cfg
	if err := p.RemoveConnection(ctx, id); err != nil {
		return err
	}
	_, err := p.AddConnection(ctx, cfg)
	return err
}

func (p *pool) Connection(id ConnectionID) (*Connection, bool) {
	v, ok := p.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

func (p *pool) All() []*Connection {
	var out []*Connection
	p.conns.Range(func(_, v any) bool {
		out = append(out, v.(*Connection))
		return true
	})
	return out
}

func (p *pool) ConnectionIDs() []string {
	var out []string
	p.conns.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

func (p *pool) EnqueueOutbound(id ConnectionID, f frame.Frame, strategy distributor.Strategy, timeout time.Duration) (bool, error) {
	conn, ok := p.Connection(id)
	if !ok {
		return false, takerrors.NotFound("connpool.EnqueueOutbound")
	}
	return conn.EnqueueOutbound(f, strategy, timeout)
}

// Broadcast enqueues f on every connection in Connected or Reconnecting
// state; connections in any other state are skipped. It counts a
// destination as sent whenever the strategy completed without error,
// including a strategy-defined drop: spec's Backpressure kind is
// counter-observable, not a per-frame failure.
func (p *pool) Broadcast(f frame.Frame, strategy distributor.Strategy, timeout time.Duration) int {
	sent := 0
	p.conns.Range(func(_, v any) bool {
		conn := v.(*Connection)
		if s := conn.State(); s != StateConnected && s != StateReconnecting {
			return true
		}
		if _, err := conn.EnqueueOutbound(f, strategy, timeout); err == nil {
			sent++
		}
		return true
	})
	return sent
}

// Shutdown removes every connection in parallel, bounded by the pool's
// configured shutdown timeout, mirroring the teacher's errgroup fan-out for
// concurrent peer resolution.
func (p *pool) Shutdown(ctx context.Context) error {
	deadline := p.shutdownTO
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	p.conns.Range(func(k, _ any) bool {
		id := k.(ConnectionID)
		g.Go(func() error {
			return p.RemoveConnection(gctx, id)
		})
		return true
	})
	return g.Wait()
}

func (p *pool) Stats() PoolStats {
	var s PoolStats
	p.conns.Range(func(_, v any) bool {
		conn := v.(*Connection)
		s.Total++
		switch conn.State() {
		case StateConnected:
			s.Connected++
		case StateConnecting:
			s.Connecting++
		case StateReconnecting:
			s.Reconnecting++
		case StateFailed:
			s.Failed++
		}
		return true
	})
	return s
}

type duplicateIDError struct{ id string }

func (e *duplicateIDError) Error() string { return "connpool: connection id already registered: " + e.id }

func errAlreadyExists(id string) error { return &duplicateIDError{id: id} }
