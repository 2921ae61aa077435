package filter

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/takrelay/aggregator/internal/cot"
	"github.com/takrelay/aggregator/internal/metrics"
)

// Mode is the chain's default action when no rule matches.
type Mode string

const (
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// Decision is the chain's final verdict on one event.
type Decision struct {
	Accepted      bool
	MatchedRuleID string
}

// Chain is an immutable, priority-ordered rule list. Evaluation always
// walks the same snapshot even if a concurrent reload swaps in a new one
// mid-walk, matching spec's "immutable snapshot behind a shared-ownership
// pointer; swap is a single atomic pointer store".
type Chain struct {
	rules []Rule
	mode  Mode
}

// NewChain sorts rules by priority descending, then by ID ascending for a
// stable, deterministic order when priorities tie.
func NewChain(mode Mode, rules []Rule) *Chain {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	return &Chain{rules: sorted, mode: mode}
}

// Evaluate walks rules in priority order, stopping at the first Accept or
// Reject. A Tag outcome is recorded but evaluation continues to the next
// rule (tags are additive, not terminal). No terminal match falls back to
// the chain's default action for its mode.
func (c *Chain) Evaluate(ctx context.Context, ev *cot.Event, logger *slog.Logger, reg *metrics.Registry) Decision {
	for _, r := range c.rules {
		outcome, err := r.Evaluate(ctx, ev)
		if err != nil {
			if logger != nil {
				logger.Warn("rule evaluation error, treating as no-match", "rule_id", r.ID(), "error", err)
			}
			continue
		}

		switch outcome {
		case OutcomeAccept:
			recordRuleEvaluation(reg, r.ID(), "accept")
			return Decision{Accepted: true, MatchedRuleID: r.ID()}
		case OutcomeReject:
			recordRuleEvaluation(reg, r.ID(), "reject")
			return Decision{Accepted: false, MatchedRuleID: r.ID()}
		case OutcomeTag:
			recordRuleEvaluation(reg, r.ID(), "tag")
			continue
		}
	}

	return c.defaultDecision()
}

func (c *Chain) defaultDecision() Decision {
	switch c.mode {
	case ModeBlacklist:
		return Decision{Accepted: true}
	default:
		return Decision{Accepted: false}
	}
}

func recordRuleEvaluation(reg *metrics.Registry, ruleID, outcome string) {
	if reg == nil {
		return
	}
	reg.RuleEvaluations.WithLabelValues(ruleID, outcome).Inc()
}

// Snapshot holds the currently active Chain behind an atomic pointer so a
// hot reload never blocks or races an in-flight evaluation.
type Snapshot struct {
	ptr atomic.Pointer[Chain]
}

func NewSnapshot(initial *Chain) *Snapshot {
	s := &Snapshot{}
	s.ptr.Store(initial)
	return s
}

func (s *Snapshot) Load() *Chain { return s.ptr.Load() }

func (s *Snapshot) Store(c *Chain) { s.ptr.Store(c) }
