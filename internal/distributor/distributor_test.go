package distributor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/takrelay/aggregator/internal/aggregator"
	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/cot"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/frame"
)

type fakeSender struct {
	mu       sync.Mutex
	enqueued map[string]int
	failFor  map[string]bool
}

func newFakeSender(ids ...string) *fakeSender {
	return &fakeSender{enqueued: make(map[string]int), failFor: make(map[string]bool)}
}

func (f *fakeSender) EnqueueOutbound(id string, fr frame.Frame, strategy Strategy, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[id] {
		return false, errBackpressure
	}
	f.enqueued[id]++
	return false, nil
}

func (f *fakeSender) ConnectionIDs() []string {
	return []string{"a", "b", "c"}
}

func (f *fakeSender) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enqueued[id]
}

var errBackpressure = &testErr{"backpressure"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func mustEvent(t *testing.T, xml string) *cot.Event {
	t.Helper()
	ev, err := cot.ParseXML([]byte(xml))
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	return ev
}

func TestDistributor_RelaysToAllExceptSource(t *testing.T) {
	sender := newFakeSender()
	chain, rules, err := filter.Build(config.FiltersConfig{Mode: "blacklist"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := New(config.DistributorConfig{MaxWorkers: 1, BatchSize: 10, FlushIntervalMs: 5, DefaultStrategy: "drop_on_full"}, sender, filter.NewSnapshot(chain), rules, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan aggregator.Result, 1)
	go d.Run(ctx, input)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"/>`)
	input <- aggregator.Result{Frame: frame.Frame{SourceID: "a"}, Event: ev, Decision: aggregator.DecisionNew}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if sender.count("b") > 0 && sender.count("c") > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if sender.count("a") != 0 {
		t.Fatalf("expected source connection a to not receive its own frame")
	}
	if sender.count("b") == 0 || sender.count("c") == 0 {
		t.Fatalf("expected frame relayed to b and c, got b=%d c=%d", sender.count("b"), sender.count("c"))
	}
}

func TestDistributor_WhitelistDropsUnmatchedEvent(t *testing.T) {
	sender := newFakeSender()
	chain, rules, err := filter.Build(config.FiltersConfig{Mode: "whitelist"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := New(config.DistributorConfig{MaxWorkers: 1, BatchSize: 10, FlushIntervalMs: 5, DefaultStrategy: "drop_on_full"}, sender, filter.NewSnapshot(chain), rules, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan aggregator.Result, 1)
	go d.Run(ctx, input)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"/>`)
	input <- aggregator.Result{Frame: frame.Frame{SourceID: "a"}, Event: ev, Decision: aggregator.DecisionNew}

	time.Sleep(50 * time.Millisecond)
	if sender.count("b") != 0 || sender.count("c") != 0 {
		t.Fatalf("expected no destination to receive an event rejected by whitelist default, got b=%d c=%d", sender.count("b"), sender.count("c"))
	}
}

type fakeBreaker struct{ open map[string]bool }

func (b *fakeBreaker) AllowSend(id string) error {
	if b.open[id] {
		return errBackpressure
	}
	return nil
}

func TestDistributor_SkipsDestinationWithOpenCircuit(t *testing.T) {
	sender := newFakeSender()
	chain, rules, err := filter.Build(config.FiltersConfig{Mode: "blacklist"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := New(config.DistributorConfig{MaxWorkers: 1, BatchSize: 10, FlushIntervalMs: 5, DefaultStrategy: "drop_on_full"}, sender, filter.NewSnapshot(chain), rules, nil, testLogger())
	d.WithCircuitChecker(&fakeBreaker{open: map[string]bool{"b": true}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan aggregator.Result, 1)
	go d.Run(ctx, input)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"/>`)
	input <- aggregator.Result{Frame: frame.Frame{SourceID: "a"}, Event: ev, Decision: aggregator.DecisionNew}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if sender.count("c") > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if sender.count("b") != 0 {
		t.Fatalf("expected destination b to be skipped while its circuit is open")
	}
	if sender.count("c") == 0 {
		t.Fatalf("expected destination c to still receive the frame")
	}
}

func TestDistributor_DestinationFailureDoesNotBlockOthers(t *testing.T) {
	sender := newFakeSender()
	sender.failFor["b"] = true
	chain, rules, err := filter.Build(config.FiltersConfig{Mode: "blacklist"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := New(config.DistributorConfig{MaxWorkers: 1, BatchSize: 10, FlushIntervalMs: 5, DefaultStrategy: "drop_on_full"}, sender, filter.NewSnapshot(chain), rules, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan aggregator.Result, 1)
	go d.Run(ctx, input)

	ev := mustEvent(t, `<event uid="X" type="a-f-G"/>`)
	input <- aggregator.Result{Frame: frame.Frame{SourceID: "a"}, Event: ev, Decision: aggregator.DecisionNew}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if sender.count("c") > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if sender.count("b") != 0 {
		t.Fatalf("expected destination b's forced failure to record zero deliveries")
	}
	if sender.count("c") == 0 {
		t.Fatalf("expected destination c to still receive the frame despite b's failure")
	}
}
