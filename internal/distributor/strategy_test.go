package distributor

import (
	"context"
	"testing"
	"time"

	"github.com/takrelay/aggregator/internal/frame"
)

func TestEnqueue_DropOnFullReportsDroppedNotErrorWhenFull(t *testing.T) {
	ch := make(chan frame.Frame, 1)
	ch <- frame.Frame{}

	dropped, err := Enqueue(context.Background(), ch, frame.Frame{}, DropOnFull, 0)
	if err != nil {
		t.Fatalf("expected DropOnFull to report success (spec: backpressure is counter-observable, not returned per-frame), got %v", err)
	}
	if !dropped {
		t.Fatalf("expected DropOnFull to report dropped=true on a full channel")
	}
}

func TestEnqueue_DropOnFullSucceedsWithSpace(t *testing.T) {
	ch := make(chan frame.Frame, 1)
	dropped, err := Enqueue(context.Background(), ch, frame.Frame{SourceID: "x"}, DropOnFull, 0)
	if err != nil {
		t.Fatalf("expected DropOnFull to succeed with space, got %v", err)
	}
	if dropped {
		t.Fatalf("expected dropped=false when there was room in the channel")
	}
}

func TestEnqueue_TryForTimeoutReportsDroppedNotErrorOnExpiry(t *testing.T) {
	ch := make(chan frame.Frame, 1)
	ch <- frame.Frame{}

	start := time.Now()
	dropped, err := Enqueue(context.Background(), ch, frame.Frame{}, TryForTimeout, 20*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected TryForTimeout to report success on expiry, got %v", err)
	}
	if !dropped {
		t.Fatalf("expected TryForTimeout to report dropped=true on a permanently full channel")
	}
	if elapsed < 15*time.Millisecond {
		t.Fatalf("expected TryForTimeout to wait roughly the timeout, elapsed %v", elapsed)
	}
}

func TestEnqueue_BlockUntilSpaceRespectsContextCancel(t *testing.T) {
	ch := make(chan frame.Frame, 1)
	ch <- frame.Frame{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	dropped, err := Enqueue(ctx, ch, frame.Frame{}, BlockUntilSpace, 0)
	if err == nil {
		t.Fatalf("expected BlockUntilSpace to fail once ctx is cancelled on a full channel")
	}
	if dropped {
		t.Fatalf("expected BlockUntilSpace's ctx cancellation to be reported as an error, not a strategy drop")
	}
}
