package health

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/connpool"
	"github.com/takrelay/aggregator/internal/transport"
)

type alwaysFailTransport struct{}

func (alwaysFailTransport) Open(ctx context.Context) error                 { return errors.New("dial refused") }
func (alwaysFailTransport) ReadFrame(ctx context.Context) ([]byte, error)  { return nil, transport.ErrEOF }
func (alwaysFailTransport) WriteFrame(ctx context.Context, b []byte) error { return nil }
func (alwaysFailTransport) Close() error                                  { return nil }

func failingFactory(cfg config.ServerConfig) (transport.Transport, error) {
	return alwaysFailTransport{}, nil
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newFailedPool(t *testing.T, id string, autoReconnect bool) connpool.Pool {
	t.Helper()
	p := connpool.New(config.ApplicationConfig{MaxConnections: 4}, failingFactory, testLogger())
	_, err := p.AddConnection(context.Background(), config.ServerConfig{
		ID:            id,
		Protocol:      "tcp",
		AutoReconnect: autoReconnect,
		Reconnect:     config.ReconnectConfig{MaxAttempts: 1, BaseMs: 1, MaxMs: 2},
	})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, _ := p.Connection(id)
		if conn.State() == connpool.StateFailed {
			return p
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("connection %s never reached Failed", id)
	return nil
}

func TestMonitor_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	p := newFailedPool(t, "srv-1", true)
	m := NewMonitor(config.HealthConfig{FailureThreshold: 2, ResetTimeoutMs: 20}, p, nil, testLogger())

	ctx := context.Background()
	m.probeAll(ctx)
	// The first probe restarts the Failed auto-reconnect connection; wait for
	// its replacement to fail again so the second probe also sees Failed.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, ok := p.Connection("srv-1"); ok && conn.State() == connpool.StateFailed {
			break
		}
		time.Sleep(time.Millisecond)
	}
	m.probeAll(ctx)

	if m.State("srv-1") != gobreaker.StateOpen {
		t.Fatalf("expected breaker to be Open after repeated Failed probes, got %v", m.State("srv-1"))
	}
	if err := m.AllowSend("srv-1"); err == nil {
		t.Fatalf("expected AllowSend to fail fast while breaker is Open")
	}
}

func TestMonitor_AllowSendPassesForUnknownConnection(t *testing.T) {
	p := connpool.New(config.ApplicationConfig{MaxConnections: 4}, failingFactory, testLogger())
	m := NewMonitor(config.HealthConfig{}, p, nil, testLogger())

	if err := m.AllowSend("never-seen"); err != nil {
		t.Fatalf("expected a fresh breaker to start Closed, got %v", err)
	}
}

func TestMonitor_RestartsFailedConnection(t *testing.T) {
	p := newFailedPool(t, "srv-2", true)
	before, _ := p.Connection("srv-2")

	m := NewMonitor(config.HealthConfig{FailureThreshold: 100}, p, nil, testLogger())
	m.probeAll(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		after, ok := p.Connection("srv-2")
		if ok && after != before {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected Restart to replace the Failed connection with a fresh one")
}

// TestMonitor_LeavesManualReconnectConnectionFailed covers spec's "Failed is
// terminal for manual-reconnect mode": a Failed connection with
// auto_reconnect=false must not be restarted by the monitor.
func TestMonitor_LeavesManualReconnectConnectionFailed(t *testing.T) {
	p := newFailedPool(t, "srv-3", false)
	before, _ := p.Connection("srv-3")

	m := NewMonitor(config.HealthConfig{FailureThreshold: 100}, p, nil, testLogger())
	m.probeAll(context.Background())

	time.Sleep(50 * time.Millisecond)
	after, ok := p.Connection("srv-3")
	if !ok || after != before {
		t.Fatalf("expected a manual-reconnect Failed connection to be left untouched")
	}
	if after.State() != connpool.StateFailed {
		t.Fatalf("expected connection to remain Failed, got %v", after.State())
	}
}
