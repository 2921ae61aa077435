package aggregator

import (
	"hash/fnv"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/cot"
)

// Decision classifies a sighting of a CoT event against the dedup cache.
type Decision int

const (
	DecisionNew Decision = iota
	DecisionDuplicate
	DecisionUpdate
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Dedup is a sharded, time-windowed cache of UID -> last-seen content hash.
// Sharding (spec: "No cross-shard locks") eliminates a single global mutex
// as the bottleneck; an event's shard is chosen by hashing its UID so the
// same UID always lands on the same shard regardless of which connection
// carried it.
type Dedup struct {
	shards []*shard
	window time.Duration
}

func NewDedup(cfg config.AggregatorConfig) *Dedup {
	shardCount := cfg.ShardCount
	if shardCount <= 0 {
		shardCount = 32
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	perShard := maxEntries / shardCount
	if perShard <= 0 {
		perShard = 1
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = newShard(perShard)
	}
	return &Dedup{shards: shards, window: cfg.DedupWindow()}
}

func (d *Dedup) shardFor(uid string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uid))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Check classifies ev against the cache and records the sighting. A frame
// with no UID is never dedupable and is always treated as New (spec:
// events lacking a UID bypass dedup entirely).
func (d *Dedup) Check(ev *cot.Event) Decision {
	if !ev.Dedupable() {
		return DecisionNew
	}

	now := time.Now()
	hash := cot.ContentHash(ev)
	s := d.shardFor(ev.UID)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[ev.UID]
	if !ok {
		s.entries[ev.UID] = &entry{contentHash: hash, firstSeenAt: now, lastSeenAt: now}
		s.order.Add(ev.UID, struct{}{})
		return DecisionNew
	}

	if d.window > 0 && now.Sub(existing.firstSeenAt) > d.window {
		// The window has elapsed since this UID's first sighting: treat this
		// as a brand new occurrence rather than comparing against the stale
		// entry, replacing it outright.
		existing.contentHash = hash
		existing.firstSeenAt = now
		existing.lastSeenAt = now
		return DecisionNew
	}

	existing.lastSeenAt = now
	if existing.contentHash == hash {
		return DecisionDuplicate
	}

	// Same UID, different content within the window: spec's stated
	// preference is to forward as an update and adopt the new hash,
	// keeping first_seen_at anchored to the original sighting.
	existing.contentHash = hash
	return DecisionUpdate
}

// Sweep evicts entries whose first sighting predates now minus twice the
// dedup window, so no entry stays cached much beyond two windows after it
// was first seen.
func (d *Dedup) Sweep(now time.Time) int {
	cutoff := now.Add(-2 * d.window)
	total := 0
	for _, s := range d.shards {
		total += s.sweep(cutoff)
	}
	return total
}
