// Package distributor fans deduplicated, filter-accepted frames out to
// every destination connection, batching per worker the same way the
// teacher's Cell.loop drains its mailbox in bursts rather than returning
// to a single-item select on every frame.
package distributor

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/takrelay/aggregator/internal/aggregator"
	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/frame"
	"github.com/takrelay/aggregator/internal/metrics"
)

// ConnectionSender is the narrow capability the distributor needs from the
// connection pool. It is satisfied structurally by connpool.Pool without
// this package importing connpool, avoiding the import cycle a direct
// dependency on *connpool.Connection would create (connpool already
// imports this package for the Strategy type).
type ConnectionSender interface {
	EnqueueOutbound(id string, f frame.Frame, strategy Strategy, timeout time.Duration) (dropped bool, err error)
	ConnectionIDs() []string
}

// CircuitChecker lets the distributor fail fast on a destination whose
// breaker is open instead of paying for a doomed enqueue attempt.
// Satisfied structurally by *health.Monitor; nil is a valid "no breaker
// wired" value, in which case every destination is attempted as before.
type CircuitChecker interface {
	AllowSend(id string) error
}

type Distributor struct {
	cfg       config.DistributorConfig
	sender    ConnectionSender
	chain     *filter.Snapshot
	rulesByID map[string]config.RuleConfig
	breaker   CircuitChecker
	logger    *slog.Logger
	metrics   *metrics.Registry
}

func New(cfg config.DistributorConfig, sender ConnectionSender, chain *filter.Snapshot, rulesByID map[string]config.RuleConfig, reg *metrics.Registry, logger *slog.Logger) *Distributor {
	return &Distributor{
		cfg:       cfg,
		sender:    sender,
		chain:     chain,
		rulesByID: rulesByID,
		metrics:   reg,
		logger:    logger.With("component", "distributor"),
	}
}

// WithCircuitChecker attaches a breaker consulted before every enqueue.
// Optional: a Distributor built without one attempts every destination
// unconditionally.
func (d *Distributor) WithCircuitChecker(c CircuitChecker) *Distributor {
	d.breaker = c
	return d
}

// Run starts max_workers lanes, each independently batching up to
// batch_size or flush_interval, and blocks until input closes or ctx is
// cancelled.
func (d *Distributor) Run(ctx context.Context, input <-chan aggregator.Result) {
	workers := d.cfg.MaxWorkers
	if workers <= 0 {
		workers = 16
	}

	lanes := make([]chan aggregator.Result, workers)
	for i := range lanes {
		lanes[i] = make(chan aggregator.Result, d.batchSize()*4)
		go d.lane(ctx, lanes[i])
	}

	nextLane := 0
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-input:
			if !ok {
				return
			}
			idx := d.laneIndex(r, workers, &nextLane)
			select {
			case lanes[idx] <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Distributor) laneIndex(r aggregator.Result, workers int, roundRobin *int) int {
	if !d.cfg.SourceAffine {
		*roundRobin = (*roundRobin + 1) % workers
		return *roundRobin
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(r.Frame.SourceID))
	return int(h.Sum32() % uint32(workers))
}

func (d *Distributor) batchSize() int {
	if d.cfg.BatchSize <= 0 {
		return 100
	}
	return d.cfg.BatchSize
}

func (d *Distributor) lane(ctx context.Context, in <-chan aggregator.Result) {
	flushInterval := d.cfg.FlushInterval()
	if flushInterval <= 0 {
		flushInterval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]aggregator.Result, 0, d.batchSize())
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-in:
			batch = append(batch, r)
			if len(batch) >= d.batchSize() {
				d.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (d *Distributor) flush(ctx context.Context, batch []aggregator.Result) {
	for _, r := range batch {
		d.deliver(ctx, r)
	}
}

func (d *Distributor) deliver(ctx context.Context, r aggregator.Result) {
	chain := d.chain.Load()
	decision := chain.Evaluate(ctx, r.Event, d.logger, d.metrics)
	if !decision.Accepted {
		return
	}

	destinations := d.resolveDestinations(decision, r.Frame.SourceID)
	strategy := Strategy(d.cfg.DefaultStrategy)
	if strategy == "" {
		strategy = DropOnFull
	}
	timeout := d.cfg.TryTimeout()

	for _, destID := range destinations {
		if d.breaker != nil {
			if err := d.breaker.AllowSend(destID); err != nil {
				if d.metrics != nil {
					d.metrics.DroppedByBackpressure.WithLabelValues(destID).Inc()
				}
				d.logger.Debug("skipped destination with open circuit", "destination", destID, "source_id", r.Frame.SourceID)
				continue
			}
		}
		dropped, err := d.sender.EnqueueOutbound(destID, r.Frame, strategy, timeout)
		if err != nil {
			d.logger.Debug("enqueue failed", "destination", destID, "source_id", r.Frame.SourceID, "error", err)
			continue
		}
		if dropped {
			if d.metrics != nil {
				d.metrics.DroppedByBackpressure.WithLabelValues(destID).Inc()
			}
			d.logger.Debug("dropped frame to destination by backpressure strategy", "destination", destID, "source_id", r.Frame.SourceID)
		}
	}
}

// resolveDestinations honors the matched rule's explicit destination list
// when present; otherwise it relays to every connection except the one the
// frame arrived on.
func (d *Distributor) resolveDestinations(decision filter.Decision, sourceID string) []string {
	if decision.MatchedRuleID != "" {
		if rc, ok := d.rulesByID[decision.MatchedRuleID]; ok && len(rc.Destinations) > 0 {
			return rc.Destinations
		}
	}

	ids := d.sender.ConnectionIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != sourceID {
			out = append(out, id)
		}
	}
	return out
}
