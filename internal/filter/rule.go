// Package filter evaluates CoT events against a configured, priority
// ordered chain of rules, deciding accept/reject/tag per spec's rule
// evaluation semantics. Rule is a tagged union expressed as an interface
// with one concrete type per variant rather than a single struct switching
// on a kind field, following the teacher's preference for typed
// implementations of a shared interface (Connector/Celler) over ad hoc
// dynamic dispatch.
package filter

import (
	"context"
	"regexp"
	"time"

	"github.com/takrelay/aggregator/internal/cot"
)

// Outcome is what a single rule decided about an event.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeAccept
	OutcomeReject
	OutcomeTag
)

// Rule is one entry in a Chain. Evaluate must be side-effect free except
// for Plugin, which may call out to the plugin runtime under a deadline.
type Rule interface {
	ID() string
	Priority() int
	Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error)
}

type base struct {
	id       string
	priority int
}

func (b base) ID() string     { return b.id }
func (b base) Priority() int  { return b.priority }

// AlwaysPass always reports OutcomeAccept.
type AlwaysPass struct {
	base
}

func NewAlwaysPass(id string, priority int) AlwaysPass { return AlwaysPass{base{id, priority}} }

func (r AlwaysPass) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	return OutcomeAccept, nil
}

// AlwaysBlock always reports OutcomeReject.
type AlwaysBlock struct {
	base
}

func NewAlwaysBlock(id string, priority int) AlwaysBlock { return AlwaysBlock{base{id, priority}} }

func (r AlwaysBlock) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	return OutcomeReject, nil
}

// ByEventType matches on exact ev.Type membership: a listed type such as
// "a-f-G-U-C" matches only that type, not its hierarchical children (an
// empty match list never matches).
type ByEventType struct {
	base
	Types   []string
	OnMatch Outcome
}

func (r ByEventType) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	for _, t := range r.Types {
		if ev.Type == t {
			return r.OnMatch, nil
		}
	}
	return OutcomeNoMatch, nil
}

// ByCallsign matches exact callsign membership.
type ByCallsign struct {
	base
	Callsigns []string
	OnMatch   Outcome
}

func (r ByCallsign) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	for _, c := range r.Callsigns {
		if ev.Callsign == c {
			return r.OnMatch, nil
		}
	}
	return OutcomeNoMatch, nil
}

// ByAffiliation matches MIL-STD-2525 friend/hostile/neutral/unknown.
type ByAffiliation struct {
	base
	Affiliations []string
	OnMatch      Outcome
}

func (r ByAffiliation) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	aff := ev.Affiliation()
	for _, a := range r.Affiliations {
		if aff == a {
			return r.OnMatch, nil
		}
	}
	return OutcomeNoMatch, nil
}

// ByGeoBounds matches events whose lat/lon fall within a rectangle. Events
// without lat/lon never match (spec: "geo filters treat this as
// non-matching").
type ByGeoBounds struct {
	base
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	OnMatch        Outcome
}

func (r ByGeoBounds) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	if !ev.HasLatLon {
		return OutcomeNoMatch, nil
	}
	if ev.Lat < r.MinLat || ev.Lat > r.MaxLat || ev.Lon < r.MinLon || ev.Lon > r.MaxLon {
		return OutcomeNoMatch, nil
	}
	return r.OnMatch, nil
}

// ByUid matches exact UID membership.
type ByUid struct {
	base
	UIDs    []string
	OnMatch Outcome
}

func (r ByUid) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	for _, u := range r.UIDs {
		if ev.UID == u {
			return r.OnMatch, nil
		}
	}
	return OutcomeNoMatch, nil
}

// Regex matches a compiled pattern against one named field of the event
// (type, uid, or callsign).
type Regex struct {
	base
	Field   string
	Pattern *regexp.Regexp
	OnMatch Outcome
}

func (r Regex) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	var value string
	switch r.Field {
	case "type":
		value = ev.Type
	case "uid":
		value = ev.UID
	case "callsign":
		value = ev.Callsign
	default:
		return OutcomeNoMatch, nil
	}
	if r.Pattern.MatchString(value) {
		return r.OnMatch, nil
	}
	return OutcomeNoMatch, nil
}

// PluginInvoker is the narrow capability the filter chain needs from the
// plugin runtime, kept local to this package so filter never imports
// wazero directly.
type PluginInvoker interface {
	EvaluateFilter(ctx context.Context, pluginID string, ev *cot.Event, timeout time.Duration) (bool, error)
}

// Plugin delegates the match decision to a sandboxed WASM filter plugin.
type Plugin struct {
	base
	PluginID string
	OnMatch  Outcome
	Timeout  time.Duration
	Invoker  PluginInvoker
}

func (r Plugin) Evaluate(ctx context.Context, ev *cot.Event) (Outcome, error) {
	matched, err := r.Invoker.EvaluateFilter(ctx, r.PluginID, ev, r.Timeout)
	if err != nil {
		return OutcomeNoMatch, err
	}
	if matched {
		return r.OnMatch, nil
	}
	return OutcomeNoMatch, nil
}
