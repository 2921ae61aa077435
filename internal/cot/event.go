// Package cot parses Cursor-on-Target event bodies (XML, and a best-effort
// optional Protobuf form) into a typed view used by the dedup aggregator
// and the filter chain. Validation is intentionally forgiving: missing
// non-critical fields produce warnings, not errors — "prefer to show data,
// even imperfect" (spec §4.2 failure semantics).
package cot

import "time"

// Event is the typed view of a parsed CoT <event>.
type Event struct {
	Type      string
	UID       string
	Callsign  string
	Group     string
	Team      string
	Lat       float64
	Lon       float64
	HAE       *float64
	Time      time.Time
	Stale     time.Time
	HasLatLon bool
	XML       []byte
	Warnings  []string
}

// Affiliation extracts the friend/hostile/neutral/unknown dimension encoded
// in a MIL-STD-2525 CoT type string, e.g. "a-f-G-U-C" -> "friend".
func (e *Event) Affiliation() string {
	if len(e.Type) < 3 || e.Type[0] != 'a' || e.Type[1] != '-' {
		return "unknown"
	}
	switch e.Type[2] {
	case 'f':
		return "friend"
	case 'h':
		return "hostile"
	case 'n':
		return "neutral"
	case 'u':
		return "unknown"
	default:
		return "unknown"
	}
}

// Dedupable reports whether this event carries a usable MessageUid.
func (e *Event) Dedupable() bool { return e.UID != "" }
