package connpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	takerrors "github.com/takrelay/aggregator/internal/errors"
	"github.com/takrelay/aggregator/internal/transport"
)

// fakeTransport is a hand-written stub for Transport, mirroring the
// teacher's Connector-for-mocking pattern.
type fakeTransport struct {
	mu     sync.Mutex
	opened bool
	closed bool
	reads  chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reads: make(chan []byte, 8)}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return nil
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-f.reads:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteFrame(ctx context.Context, b []byte) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.reads)
	}
	return nil
}

func fakeFactory(t *fakeTransport) transport.Factory {
	return func(cfg config.ServerConfig) (transport.Transport, error) { return t, nil }
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func serverConfig(id string) config.ServerConfig {
	return config.ServerConfig{
		ID:              id,
		Endpoint:        "fake:0",
		Protocol:        "tcp",
		ChannelCapacity: 10,
		Reconnect:       config.ReconnectConfig{BaseMs: 10, MaxMs: 100},
	}
}

func TestAddConnection_RejectsDuplicateID(t *testing.T) {
	p := New(config.ApplicationConfig{MaxConnections: 4}, fakeFactory(newFakeTransport()), testLogger()).(*pool)

	id, err := p.AddConnection(context.Background(), serverConfig("a"))
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if id != "a" {
		t.Fatalf("expected id a, got %s", id)
	}

	_, err = p.AddConnection(context.Background(), serverConfig("a"))
	if err == nil {
		t.Fatalf("expected error adding duplicate connection id")
	}
}

func TestAddConnection_AtCapacityBoundary(t *testing.T) {
	p := New(config.ApplicationConfig{MaxConnections: 2}, fakeFactory(newFakeTransport()), testLogger())

	if _, err := p.AddConnection(context.Background(), serverConfig("a")); err != nil {
		t.Fatalf("AddConnection a: %v", err)
	}
	if _, err := p.AddConnection(context.Background(), serverConfig("b")); err != nil {
		t.Fatalf("AddConnection b: %v", err)
	}

	_, err := p.AddConnection(context.Background(), serverConfig("c"))
	if err == nil {
		t.Fatalf("expected AtCapacity error adding third connection")
	}
	if kind, ok := takerrors.KindOf(err); !ok || kind != takerrors.KindAtCapacity {
		t.Fatalf("expected KindAtCapacity, got %v", err)
	}
}

func TestRemoveConnection_IdempotentOnUnknownID(t *testing.T) {
	p := New(config.ApplicationConfig{MaxConnections: 4}, fakeFactory(newFakeTransport()), testLogger())

	if err := p.RemoveConnection(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("expected nil error removing unknown id, got %v", err)
	}

	if _, err := p.AddConnection(context.Background(), serverConfig("a")); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if err := p.RemoveConnection(context.Background(), "a"); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}
	// Second removal of the same, now-gone id must still succeed.
	if err := p.RemoveConnection(context.Background(), "a"); err != nil {
		t.Fatalf("expected idempotent remove, got %v", err)
	}
}

func TestConnection_TransitionsToConnected(t *testing.T) {
	ft := newFakeTransport()
	p := New(config.ApplicationConfig{MaxConnections: 4}, fakeFactory(ft), testLogger())

	if _, err := p.AddConnection(context.Background(), serverConfig("a")); err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, ok := p.Connection("a")
		if ok && conn.State() == StateConnected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("connection did not reach Connected state")
}

func TestShutdown_RemovesAllConnections(t *testing.T) {
	p := New(config.ApplicationConfig{MaxConnections: 4}, fakeFactory(newFakeTransport()), testLogger())

	for _, id := range []string{"a", "b", "c"} {
		if _, err := p.AddConnection(context.Background(), serverConfig(id)); err != nil {
			t.Fatalf("AddConnection %s: %v", id, err)
		}
	}

	if err := p.Shutdown(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown: %v", err)
	}

	if len(p.All()) != 0 {
		t.Fatalf("expected all connections removed after shutdown, got %d", len(p.All()))
	}
}
