package connpool

import (
	"context"
	"log/slog"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	takerrors "github.com/takrelay/aggregator/internal/errors"
	"github.com/takrelay/aggregator/internal/frame"
	"github.com/takrelay/aggregator/internal/transport"
)

// task drives one Connection's transport across its entire lifetime:
// Connecting -> Connected -> Reconnecting -> Failed/Closed. Only this
// goroutine ever calls conn.setState.
type task struct {
	conn    *Connection
	cfg     config.ServerConfig
	factory transport.Factory
	logger  *slog.Logger
}

func newTask(conn *Connection, cfg config.ServerConfig, factory transport.Factory, logger *slog.Logger) *task {
	return &task{conn: conn, cfg: cfg, factory: factory, logger: logger.With("component", "connpool", "connection_id", cfg.ID)}
}

func (t *task) run() {
	attempt := 0
	for {
		select {
		case <-t.conn.ctx.Done():
			t.conn.setState(StateClosed)
			return
		default:
		}

		if t.conn.State() != StateReconnecting {
			t.conn.setState(StateConnecting)
		}
		tr, err := t.factory(t.cfg)
		if err != nil {
			t.logger.Error("transport factory failed", "error", err)
			t.conn.setState(StateFailed)
			return
		}

		openCtx, cancel := context.WithTimeout(t.conn.ctx, 30*time.Second)
		err = tr.Open(openCtx)
		cancel()
		if err != nil {
			if !t.handleConnectFailure(err, &attempt) {
				return
			}
			continue
		}

		attempt = 0
		t.conn.reconnects.Add(boolToUint64(t.conn.State() == StateReconnecting))
		t.conn.setState(StateConnected)
		t.logger.Info("connection established")

		t.runSession(tr)

		select {
		case <-t.conn.ctx.Done():
			_ = tr.Close()
			t.conn.setState(StateClosed)
			return
		default:
		}

		_ = tr.Close()
		if !t.cfg.AutoReconnect {
			t.conn.setState(StateFailed)
			return
		}
		t.conn.setState(StateReconnecting)
	}
}

// runSession drives the read/write loops until either fails or the
// connection is asked to close. It blocks until the session ends.
func (t *task) runSession(tr transport.Transport) {
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		t.readLoop(tr)
	}()
	t.writeLoop(tr, sessionDone)
	<-sessionDone
}

func (t *task) readLoop(tr transport.Transport) {
	for {
		select {
		case <-t.conn.ctx.Done():
			return
		default:
		}

		ctx, cancel := context.WithTimeout(t.conn.ctx, 60*time.Second)
		b, err := tr.ReadFrame(ctx)
		cancel()
		if err != nil {
			if err != transport.ErrEOF {
				t.conn.errorCount.Add(1)
			}
			return
		}

		t.conn.touch()
		t.conn.bytesIn.Add(uint64(len(b)))
		t.conn.msgsIn.Add(1)

		f := frame.Frame{
			SourceID:   t.conn.id,
			Bytes:      b,
			ReceivedAt: time.Now(),
			Protocol:   frame.Protocol(t.cfg.Protocol),
			Priority:   t.cfg.Priority,
		}

		select {
		case t.conn.inbound <- f:
		case <-t.conn.ctx.Done():
			return
		}
	}
}

func (t *task) writeLoop(tr transport.Transport, sessionDone <-chan struct{}) {
	for {
		select {
		case <-t.conn.ctx.Done():
			return
		case <-sessionDone:
			return
		case f := <-t.conn.outbound:
			ctx, cancel := context.WithTimeout(t.conn.ctx, 30*time.Second)
			err := tr.WriteFrame(ctx, f.Bytes)
			cancel()
			if err != nil {
				t.conn.errorCount.Add(1)
				return
			}
			t.conn.touch()
			t.conn.bytesOut.Add(uint64(len(f.Bytes)))
			t.conn.msgsOut.Add(1)
		}
	}
}

// handleConnectFailure classifies err and either sleeps for the backoff
// delay and returns true (retry), or transitions to Failed and returns
// false (stop).
func (t *task) handleConnectFailure(err error, attempt *int) bool {
	t.conn.errorCount.Add(1)

	if kind, ok := takerrors.KindOf(err); ok && (kind == takerrors.KindCertificate || (kind == takerrors.KindTransport && !takerrors.IsTransient(err))) {
		t.logger.Error("permanent connect failure", "error", err)
		t.conn.setState(StateFailed)
		return false
	}

	*attempt++
	if t.cfg.Reconnect.MaxAttempts > 0 && *attempt > t.cfg.Reconnect.MaxAttempts {
		t.logger.Error("max reconnect attempts exhausted", "attempts", *attempt)
		t.conn.setState(StateFailed)
		return false
	}

	t.conn.setState(StateReconnecting)
	delay := backoff(t.cfg.Reconnect, *attempt-1)
	t.logger.Warn("connect failed, backing off", "error", err, "attempt", *attempt, "delay", delay)

	select {
	case <-time.After(delay):
		return true
	case <-t.conn.ctx.Done():
		t.conn.setState(StateClosed)
		return false
	}
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
