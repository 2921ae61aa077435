package cot

import (
	"crypto/sha256"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

// rawEvent mirrors the CoT <event> wire schema closely enough to decode it;
// every field is optional at the XML level so a partial document still
// decodes (forgiving validation happens in ParseXML, not here).
type rawEvent struct {
	XMLName xml.Name `xml:"event"`
	Type    string   `xml:"type,attr"`
	UID     string   `xml:"uid,attr"`
	Time    string   `xml:"time,attr"`
	Stale   string   `xml:"stale,attr"`
	Point   struct {
		Lat string `xml:"lat,attr"`
		Lon string `xml:"lon,attr"`
		HAE string `xml:"hae,attr"`
	} `xml:"point"`
	Detail struct {
		Contact struct {
			Callsign string `xml:"callsign,attr"`
		} `xml:"contact"`
		Group struct {
			Name string `xml:"name,attr"`
			Role string `xml:"role,attr"`
		} `xml:"group"`
	} `xml:"detail"`
}

// ParseXML decodes a CoT <event> document. Only a structurally malformed
// document (not well-formed XML, or not an <event> at all) is a ParseError;
// every other gap is recorded as a warning and the event is still returned
// so the frame can flow downstream (spec §4.2, §6.2).
func ParseXML(body []byte) (*Event, error) {
	var raw rawEvent
	if err := xml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("cot: malformed xml: %w", err)
	}
	if raw.XMLName.Local != "event" {
		return nil, fmt.Errorf("cot: root element is %q, want <event>", raw.XMLName.Local)
	}

	ev := &Event{
		Type:     raw.Type,
		UID:      raw.UID,
		Callsign: raw.Detail.Contact.Callsign,
		Group:    raw.Detail.Group.Name,
		Team:     raw.Detail.Group.Role,
		XML:      body,
	}

	if raw.Type == "" {
		ev.Warnings = append(ev.Warnings, "missing type attribute")
	}
	if raw.UID == "" {
		ev.Warnings = append(ev.Warnings, "missing uid attribute: frame is non-dedupable")
	}
	if raw.Time == "" {
		ev.Warnings = append(ev.Warnings, "missing time attribute")
	} else if t, err := time.Parse(time.RFC3339, raw.Time); err == nil {
		ev.Time = t
	} else {
		ev.Warnings = append(ev.Warnings, "unparsable time attribute: "+raw.Time)
	}
	if raw.Stale == "" {
		ev.Warnings = append(ev.Warnings, "missing stale attribute")
	} else if t, err := time.Parse(time.RFC3339, raw.Stale); err == nil {
		ev.Stale = t
	} else {
		ev.Warnings = append(ev.Warnings, "unparsable stale attribute: "+raw.Stale)
	}

	if raw.Point.Lat == "" || raw.Point.Lon == "" {
		ev.Warnings = append(ev.Warnings, "missing lat/lon: geo filters will treat this as non-matching")
	} else {
		lat, errLat := strconv.ParseFloat(raw.Point.Lat, 64)
		lon, errLon := strconv.ParseFloat(raw.Point.Lon, 64)
		if errLat != nil || errLon != nil {
			ev.Warnings = append(ev.Warnings, "unparsable lat/lon")
		} else {
			ev.Lat, ev.Lon, ev.HasLatLon = lat, lon, true
		}
	}
	if raw.Point.HAE != "" {
		if hae, err := strconv.ParseFloat(raw.Point.HAE, 64); err == nil {
			ev.HAE = &hae
		}
	}

	return ev, nil
}

// ContentHash digests a canonical subset of fields (uid, type, lat/lon/hae,
// time) for duplicate-vs-update classification (spec §4.2 step 1).
func ContentHash(ev *Event) [32]byte {
	hae := "nil"
	if ev.HAE != nil {
		hae = strconv.FormatFloat(*ev.HAE, 'f', -1, 64)
	}
	canonical := fmt.Sprintf("%s|%s|%.7f|%.7f|%s|%s",
		ev.UID, ev.Type, ev.Lat, ev.Lon, hae, ev.Time.UTC().Format(time.RFC3339Nano))
	return sha256.Sum256([]byte(canonical))
}
