package cot

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseProtobuf is a best-effort decoder for the minimal CoT protobuf
// envelope spec §6.2/§9 treats as optional ("the implementation may start
// with XML only"). There is no protoc toolchain available to generate a
// full .pb.go for the TAK mesh protobuf schema, so this reads the handful
// of fields the rest of the system actually requires (uid, type, lat, lon,
// hae, stale/time) directly off the wire with protowire, tolerating unknown
// field numbers the way the XML path tolerates missing attributes.
//
// Expected field numbers (matching the widely deployed TAK CotEvent proto):
//  1: type (string)   2: uid (string)   3: stale_time (string, RFC3339)
//  4: send_time (string, RFC3339)   5: lat (double)   6: lon (double)
//  7: hae (double)    8: callsign (string)
func ParseProtobuf(body []byte) (*Event, error) {
	ev := &Event{XML: nil}

	b := body
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("cot: malformed protobuf tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("cot: malformed protobuf bytes field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			applyStringField(ev, num, string(v))
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("cot: malformed protobuf fixed64 field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			applyDoubleField(ev, num, fixed64ToFloat64(v))
		case protowire.VarintType:
			_, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("cot: malformed protobuf varint field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("cot: malformed protobuf field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if ev.Type == "" {
		ev.Warnings = append(ev.Warnings, "missing type field")
	}
	if ev.UID == "" {
		ev.Warnings = append(ev.Warnings, "missing uid field: frame is non-dedupable")
	}
	if !ev.HasLatLon {
		ev.Warnings = append(ev.Warnings, "missing lat/lon: geo filters will treat this as non-matching")
	}

	return ev, nil
}

func applyStringField(ev *Event, num protowire.Number, v string) {
	switch num {
	case 1:
		ev.Type = v
	case 2:
		ev.UID = v
	case 3:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			ev.Stale = t
		}
	case 4:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			ev.Time = t
		}
	case 8:
		ev.Callsign = v
	}
}

func applyDoubleField(ev *Event, num protowire.Number, v float64) {
	switch num {
	case 5:
		ev.Lat = v
		ev.HasLatLon = true
	case 6:
		ev.Lon = v
		ev.HasLatLon = true
	case 7:
		hae := v
		ev.HAE = &hae
	}
}

func fixed64ToFloat64(v uint64) float64 {
	return math.Float64frombits(v)
}
