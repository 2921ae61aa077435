package ws

import (
	"log/slog"
	"testing"
	"time"

	"github.com/takrelay/aggregator/internal/aggregator"
	"github.com/takrelay/aggregator/internal/cot"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func mustEvent(t *testing.T, xml string) *cot.Event {
	t.Helper()
	ev, err := cot.ParseXML([]byte(xml))
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	return ev
}

func TestHub_FanOutRespectsEventTypeFilter(t *testing.T) {
	h := NewHub(testLogger())

	matching := h.subscribe(Subscription{EventTypes: []string{"a-f-G"}})
	defer h.unsubscribe(matching)
	nonMatching := h.subscribe(Subscription{EventTypes: []string{"a-h-G"}})
	defer h.unsubscribe(nonMatching)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"/>`)
	h.fanOut(aggregator.Result{Event: ev, Decision: aggregator.DecisionNew})

	select {
	case <-matching.out:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected the matching subscriber to receive the event")
	}

	select {
	case <-nonMatching.out:
		t.Fatalf("expected the non-matching subscriber to receive nothing")
	default:
	}
}

func TestHub_FanOutRespectsGeoBounds(t *testing.T) {
	h := NewHub(testLogger())

	inBounds := h.subscribe(Subscription{GeoBounds: &GeoBounds{MinLat: 0, MaxLat: 10, MinLon: 0, MaxLon: 10}})
	defer h.unsubscribe(inBounds)
	outOfBounds := h.subscribe(Subscription{GeoBounds: &GeoBounds{MinLat: 50, MaxLat: 60, MinLon: 50, MaxLon: 60}})
	defer h.unsubscribe(outOfBounds)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"><point lat="5" lon="5"/></event>`)
	h.fanOut(aggregator.Result{Event: ev, Decision: aggregator.DecisionNew})

	select {
	case <-inBounds.out:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected the in-bounds subscriber to receive the event")
	}

	select {
	case <-outOfBounds.out:
		t.Fatalf("expected the out-of-bounds subscriber to receive nothing")
	default:
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(testLogger())
	c := h.subscribe(Subscription{})
	h.unsubscribe(c)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"/>`)
	h.fanOut(aggregator.Result{Event: ev, Decision: aggregator.DecisionNew})

	select {
	case _, ok := <-c.out:
		if ok {
			t.Fatalf("expected closed channel to yield no values")
		}
	default:
	}
}
