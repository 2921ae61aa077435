// Package health tracks connection liveness and drives a per-connection
// circuit breaker, so a persistently failing destination stops being
// offered work instead of silently eating every enqueue attempt (spec:
// "fail fast ... do not block").
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/connpool"
	takerrors "github.com/takrelay/aggregator/internal/errors"
	"github.com/takrelay/aggregator/internal/metrics"
)

// Monitor runs one ticker per process, probing every connection's
// liveness and maintaining a circuit breaker per connection ID. connpool
// does not depend on health, so importing the connpool.Pool interface here
// introduces no cycle and needs no bridging interface.
type Monitor struct {
	cfg     config.HealthConfig
	pool    connpool.Pool
	logger  *slog.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewMonitor(cfg config.HealthConfig, pool connpool.Pool, reg *metrics.Registry, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		pool:     pool,
		metrics:  reg,
		logger:   logger.With("component", "health"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *Monitor) breakerFor(id string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[id]; ok {
		return b
	}

	threshold := uint32(m.cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	successThreshold := uint32(m.cfg.SuccessThreshold)
	if successThreshold == 0 {
		successThreshold = 2
	}

	settings := gobreaker.Settings{
		Name:    id,
		Timeout: m.cfg.ResetTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Info("circuit breaker state change", "connection_id", name, "from", from, "to", to)
		},
		// In Half-Open, this many consecutive successes close the breaker.
		MaxRequests: successThreshold,
	}

	b := gobreaker.NewCircuitBreaker(settings)
	m.breakers[id] = b
	return b
}

// State returns the connection's current breaker state, creating the
// breaker lazily (Closed) on first probe if it does not exist yet.
func (m *Monitor) State(id string) gobreaker.State {
	return m.breakerFor(id).State()
}

// AllowSend reports whether the breaker for id currently permits sends,
// and returns a CircuitOpen error when it does not (spec: fail fast).
func (m *Monitor) AllowSend(id string) error {
	if m.State(id) == gobreaker.StateOpen {
		return takerrors.CircuitOpen("health.AllowSend")
	}
	return nil
}

// Run starts the liveness-check ticker and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.CheckInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	idleThreshold := m.cfg.IdleThreshold()
	for _, conn := range m.pool.All() {
		breaker := m.breakerFor(conn.ID())

		_, _ = breaker.Execute(func() (interface{}, error) {
			return nil, m.probeOne(conn, idleThreshold)
		})

		if m.metrics != nil {
			m.metrics.CircuitState.WithLabelValues(conn.ID()).Set(circuitStateGauge(breaker.State()))
		}

		// A Failed auto-reconnect connection is restarted only while its
		// breaker is not Open.
		if conn.State() == connpool.StateFailed && conn.AutoReconnect() && breaker.State() != gobreaker.StateOpen {
			if err := m.pool.Restart(ctx, conn.ID()); err != nil {
				m.logger.Warn("auto-reconnect failed", "connection_id", conn.ID(), "error", err)
			}
		}
	}
}

// probeOne returns an error (counted by the breaker as a failure) when a
// Connected connection has gone idle past idle_threshold, or when the
// connection is in Failed state.
func (m *Monitor) probeOne(conn *connpool.Connection, idleThreshold time.Duration) error {
	switch conn.State() {
	case connpool.StateFailed:
		return takerrors.Disconnected("health.probeOne")
	case connpool.StateConnected:
		if idleThreshold > 0 && time.Since(conn.LastActivity()) > idleThreshold {
			return takerrors.Timeout("health.probeOne", nil)
		}
	}
	return nil
}

func circuitStateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
