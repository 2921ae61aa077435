package aggregator

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	contentHash [32]byte
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// shard holds one slice of the dedup keyspace: a map for full entry state
// plus an LRU that tracks sighting recency for eviction ordering. The LRU
// never carries the entry payload itself, only the key, so a duplicate
// check (which must not disturb eviction order) can read the map directly
// without touching the LRU at all; only a brand-new UID's first sighting
// calls lru.Add, mirroring the teacher's cache-aside shape in
// peer_enricher.go but split in two to keep "touch" (LRU) and "replace"
// (map) independent operations.
type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *lru.Cache[string, struct{}]
}

func newShard(maxEntries int) *shard {
	s := &shard{entries: make(map[string]*entry, maxEntries/4+1)}
	// When an Add pushes the LRU past maxEntries it evicts its oldest key;
	// the callback drops that key's entry from the map too.
	s.order, _ = lru.NewWithEvict[string, struct{}](maxEntries, func(uid string, _ struct{}) {
		delete(s.entries, uid)
	})
	return s
}

// sweep removes entries first seen before cutoff, returning the count
// evicted.
func (s *shard) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for uid, e := range s.entries {
		if e.firstSeenAt.Before(cutoff) {
			delete(s.entries, uid)
			s.order.Remove(uid)
			evicted++
		}
	}
	return evicted
}
