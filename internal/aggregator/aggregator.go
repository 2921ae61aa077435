// Package aggregator merges inbound frames from every connection into a
// single deduplicated stream of CoT events, the way the teacher's
// per-subscriber MessageHandler loop turns fanned-in events into delivery
// decisions, generalized here into a fixed worker pool over one merge
// channel instead of one actor per recipient.
package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/cot"
	"github.com/takrelay/aggregator/internal/frame"
	"github.com/takrelay/aggregator/internal/metrics"
)

// Result is one worker's classification of a single frame, ready for the
// distributor.
type Result struct {
	Frame    frame.Frame
	Event    *cot.Event
	Decision Decision
}

type Aggregator struct {
	cfg       config.AggregatorConfig
	dedup     *Dedup
	merge     chan frame.Frame
	out       chan Result
	broadcast chan Result
	logger    *slog.Logger
	metrics   *metrics.Registry

	wg sync.WaitGroup
}

func New(cfg config.AggregatorConfig, reg *metrics.Registry, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		dedup:     NewDedup(cfg),
		merge:     make(chan frame.Frame, 4096),
		out:       make(chan Result, 4096),
		broadcast: make(chan Result, 256),
		logger:    logger.With("component", "aggregator"),
		metrics:   reg,
	}
}

// AddSource starts a forwarding goroutine that copies ch into the shared
// merge channel, preserving per-source ordering into the merge the same
// way each of the teacher's subscriber channels feeds its own Cell
// unmodified.
func (a *Aggregator) AddSource(ctx context.Context, ch <-chan frame.Frame) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-ch:
				if !ok {
					return
				}
				select {
				case a.merge <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Output is the deduplicated stream the distributor consumes. It has
// exactly one reader, the distributor's Run loop.
func (a *Aggregator) Output() <-chan Result { return a.out }

// Broadcast is a best-effort tee of the same stream for optional
// subscribers (the WebSocket stream hub) that must never be able to slow
// down the distributor's critical path: a full broadcast buffer drops the
// result rather than blocking process().
func (a *Aggregator) Broadcast() <-chan Result { return a.broadcast }

// Run starts the worker pool and the periodic sweep goroutine, blocking
// until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	workers := a.cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}

	go a.sweepLoop(ctx)

	<-ctx.Done()
	a.wg.Wait()
	close(a.out)
}

func (a *Aggregator) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-a.merge:
			a.process(ctx, f)
		}
	}
}

func (a *Aggregator) process(ctx context.Context, f frame.Frame) {
	ev, err := cot.ParseXML(f.Bytes)
	if err != nil {
		if a.metrics != nil {
			a.metrics.ParseWarnings.Inc()
		}
		a.logger.Warn("forwarding unparsable frame without dedup", "source_id", f.SourceID, "error", err)
		ev = &cot.Event{XML: f.Bytes, Warnings: []string{err.Error()}}
	}
	for _, w := range ev.Warnings {
		a.logger.Debug("cot parse warning", "source_id", f.SourceID, "uid", ev.UID, "warning", w)
	}

	decision := DecisionNew
	if err == nil {
		decision = a.dedup.Check(ev)
		a.recordMetrics(decision)
	}

	if decision == DecisionDuplicate {
		return
	}

	result := Result{Frame: f, Event: ev, Decision: decision}
	select {
	case a.out <- result:
	case <-ctx.Done():
		return
	}

	select {
	case a.broadcast <- result:
	default:
	}
}

func (a *Aggregator) recordMetrics(d Decision) {
	if a.metrics == nil {
		return
	}
	switch d {
	case DecisionDuplicate:
		a.metrics.DuplicatesDropped.Inc()
	case DecisionNew, DecisionUpdate:
		a.metrics.UniquesForwarded.Inc()
	}
}

func (a *Aggregator) sweepLoop(ctx context.Context) {
	window := a.cfg.DedupWindow()
	if window <= 0 {
		window = time.Minute
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := a.dedup.Sweep(now)
			if evicted > 0 {
				a.logger.Debug("dedup sweep evicted entries", "count", evicted)
			}
		}
	}
}
