package connpool

import (
	"math/rand"
	"time"

	"github.com/takrelay/aggregator/internal/config"
)

// backoff computes the exponential reconnect delay for the given attempt
// number (0-based), clamped to cfg.MaxMs and perturbed by +/- cfg.Jitter
// fraction of the clamped value.
func backoff(cfg config.ReconnectConfig, attempt int) time.Duration {
	base := float64(cfg.BaseMs)
	if base <= 0 {
		base = 500
	}
	maxMs := float64(cfg.MaxMs)
	if maxMs <= 0 {
		maxMs = 30000
	}

	delay := base * float64(int64(1)<<uint(minInt(attempt, 20)))
	if delay > maxMs {
		delay = maxMs
	}

	if cfg.Jitter > 0 {
		spread := delay * cfg.Jitter
		delay = delay - spread + rand.Float64()*2*spread
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay) * time.Millisecond
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
