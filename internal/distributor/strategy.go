package distributor

import (
	"context"
	"time"

	"github.com/takrelay/aggregator/internal/frame"

	takerrors "github.com/takrelay/aggregator/internal/errors"
)

// Strategy names one of the three backpressure behaviors available when
// enqueueing onto a destination connection's bounded outbound channel.
type Strategy string

const (
	DropOnFull      Strategy = "drop_on_full"
	BlockUntilSpace Strategy = "block_until_space"
	TryForTimeout   Strategy = "try_for_timeout"
)

// Enqueue pushes f onto ch according to strategy. timeout only applies to
// TryForTimeout; it is ignored otherwise.
//
// A strategy-defined drop (DropOnFull finding the channel full, or
// TryForTimeout expiring) is reported via the dropped return, not err:
// spec's Backpressure kind is "observable via counter, not returned
// per-frame" — send_to returns success for all three strategies (the
// exact case S3 covers). err is reserved for genuinely exceptional
// conditions, such as BlockUntilSpace's ctx being cancelled out from
// under it (a shutdown abort, not a backpressure drop).
//
// DropOnFull mirrors the teacher's Cell.Push: a non-blocking select that
// drops the event rather than stall the caller. BlockUntilSpace waits for
// space or ctx cancellation, the shape the teacher reserves for events it
// cannot afford to lose. TryForTimeout mirrors connect.Send's bounded wait,
// simplified to a pure drop on expiry (no priority eviction, see DESIGN.md).
func Enqueue(ctx context.Context, ch chan<- frame.Frame, f frame.Frame, strategy Strategy, timeout time.Duration) (dropped bool, err error) {
	switch strategy {
	case DropOnFull:
		select {
		case ch <- f:
			return false, nil
		default:
			return true, nil
		}

	case BlockUntilSpace:
		select {
		case ch <- f:
			return false, nil
		case <-ctx.Done():
			return false, takerrors.Wrap("distributor.Enqueue", takerrors.KindDisconnected, ctx.Err())
		}

	case TryForTimeout:
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		select {
		case ch <- f:
			return false, nil
		case <-timeoutCtx.Done():
			return true, nil
		}

	default:
		return false, takerrors.New("distributor.Enqueue", takerrors.KindConfig)
	}
}
