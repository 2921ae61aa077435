package cot

import "testing"

func TestParseXML_FullEvent(t *testing.T) {
	body := []byte(`<event uid="X" type="a-f-G-U-C" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z">
		<point lat="1.0" lon="2.0" hae="10"/>
		<detail><contact callsign="RAVEN"/></detail>
	</event>`)

	ev, err := ParseXML(body)
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	if ev.UID != "X" || ev.Type != "a-f-G-U-C" || ev.Callsign != "RAVEN" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.HasLatLon || ev.Lat != 1.0 || ev.Lon != 2.0 {
		t.Fatalf("unexpected lat/lon: %+v", ev)
	}
	if len(ev.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", ev.Warnings)
	}
	if ev.Affiliation() != "friend" {
		t.Fatalf("expected friend affiliation, got %s", ev.Affiliation())
	}
}

func TestParseXML_ForgivingOnMissingFields(t *testing.T) {
	// S6: missing type/time/stale but has uid and point.
	body := []byte(`<event uid="Y"><point lat="10" lon="20"/></event>`)

	ev, err := ParseXML(body)
	if err != nil {
		t.Fatalf("ParseXML returned error for forgivable input: %v", err)
	}
	if ev.UID != "Y" {
		t.Fatalf("expected uid Y, got %q", ev.UID)
	}
	if len(ev.Warnings) == 0 {
		t.Fatalf("expected warnings for missing type/time/stale")
	}
	if !ev.HasLatLon {
		t.Fatalf("expected lat/lon to parse")
	}
}

func TestParseXML_MalformedRejected(t *testing.T) {
	_, err := ParseXML([]byte(`not xml at all <<<`))
	if err == nil {
		t.Fatalf("expected error for malformed xml")
	}
}

func TestParseXML_WrongRootRejected(t *testing.T) {
	_, err := ParseXML([]byte(`<notanevent/>`))
	if err == nil {
		t.Fatalf("expected error for non-event root")
	}
}

func TestContentHash_StableForIdenticalEvents(t *testing.T) {
	a, err := ParseXML([]byte(`<event uid="X" type="a-f-G-U-C" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1.0" lon="1.0"/></event>`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseXML([]byte(`<event uid="X" type="a-f-G-U-C" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1.0" lon="1.0"/></event>`))
	if err != nil {
		t.Fatal(err)
	}
	if ContentHash(a) != ContentHash(b) {
		t.Fatalf("expected identical content hashes for identical events")
	}

	c, err := ParseXML([]byte(`<event uid="X" type="a-f-G-U-C" time="2026-01-01T00:00:00Z" stale="2026-01-01T00:05:00Z"><point lat="1.1" lon="1.1"/></event>`))
	if err != nil {
		t.Fatal(err)
	}
	if ContentHash(a) == ContentHash(c) {
		t.Fatalf("expected different content hashes for different lat/lon")
	}
}
