package aggregator

import (
	"testing"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/cot"
)

func mustParse(t *testing.T, xml string) *cot.Event {
	t.Helper()
	ev, err := cot.ParseXML([]byte(xml))
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	return ev
}

func TestDedup_FirstSightingIsNew(t *testing.T) {
	d := NewDedup(config.AggregatorConfig{DedupWindowMs: 60000, MaxEntries: 1000, ShardCount: 4})
	ev := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1" lon="1"/></event>`)

	if got := d.Check(ev); got != DecisionNew {
		t.Fatalf("expected DecisionNew, got %v", got)
	}
}

func TestDedup_IdenticalResightingIsDuplicate(t *testing.T) {
	d := NewDedup(config.AggregatorConfig{DedupWindowMs: 60000, MaxEntries: 1000, ShardCount: 4})
	ev1 := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1" lon="1"/></event>`)
	ev2 := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1" lon="1"/></event>`)

	if got := d.Check(ev1); got != DecisionNew {
		t.Fatalf("first sighting: expected New, got %v", got)
	}
	if got := d.Check(ev2); got != DecisionDuplicate {
		t.Fatalf("second identical sighting: expected Duplicate, got %v", got)
	}
}

func TestDedup_ChangedContentIsUpdate(t *testing.T) {
	d := NewDedup(config.AggregatorConfig{DedupWindowMs: 60000, MaxEntries: 1000, ShardCount: 4})
	ev1 := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1" lon="1"/></event>`)
	ev2 := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="2" lon="2"/></event>`)

	d.Check(ev1)
	if got := d.Check(ev2); got != DecisionUpdate {
		t.Fatalf("expected Update on changed content, got %v", got)
	}
}

func TestDedup_NoUIDAlwaysNew(t *testing.T) {
	d := NewDedup(config.AggregatorConfig{DedupWindowMs: 60000, MaxEntries: 1000, ShardCount: 4})
	ev := mustParse(t, `<event type="a-f-G" time="2026-01-01T00:00:00Z"><point lat="1" lon="1"/></event>`)

	if got := d.Check(ev); got != DecisionNew {
		t.Fatalf("expected New for non-dedupable event, got %v", got)
	}
	if got := d.Check(ev); got != DecisionNew {
		t.Fatalf("expected New again for repeated non-dedupable event, got %v", got)
	}
}

func TestDedup_ResightingAfterWindowExpiryIsNew(t *testing.T) {
	d := NewDedup(config.AggregatorConfig{DedupWindowMs: 50, MaxEntries: 1000, ShardCount: 4})
	ev1 := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1" lon="1"/></event>`)
	ev2 := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1" lon="1"/></event>`)

	if got := d.Check(ev1); got != DecisionNew {
		t.Fatalf("first sighting: expected New, got %v", got)
	}

	time.Sleep(75 * time.Millisecond)

	if got := d.Check(ev2); got != DecisionNew {
		t.Fatalf("resighting after the dedup window elapsed: expected New, got %v", got)
	}
	// The entry was replaced, not just refreshed: a third, immediate,
	// identical resighting must now read as Duplicate against the new entry.
	if got := d.Check(ev2); got != DecisionDuplicate {
		t.Fatalf("expected the replaced entry to dedup normally afterward, got %v", got)
	}
}

func TestDedup_SweepRespectsTwiceWindowInvariant(t *testing.T) {
	d := NewDedup(config.AggregatorConfig{DedupWindowMs: 1000, MaxEntries: 1000, ShardCount: 4})
	ev := mustParse(t, `<event uid="A" type="a-f-G" time="2026-01-01T00:00:00Z"><point lat="1" lon="1"/></event>`)
	d.Check(ev)

	now := time.Now()
	// Just under 2x window: must survive.
	if evicted := d.Sweep(now.Add(1900 * time.Millisecond)); evicted != 0 {
		t.Fatalf("expected entry to survive just under 2x window, evicted %d", evicted)
	}
	// Past 2x window: must be evicted.
	if evicted := d.Sweep(now.Add(2100 * time.Millisecond)); evicted != 1 {
		t.Fatalf("expected entry evicted past 2x window, evicted %d", evicted)
	}
}
