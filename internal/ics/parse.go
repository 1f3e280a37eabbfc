package ics

import (
	"strings"

	appLog "todaycal/internal/log"
	"todaycal/internal/model"
)

const (
	propSummary     = "SUMMARY"
	propDescription = "DESCRIPTION"
	propLocation    = "LOCATION"
	propUID         = "UID"
	propDtStart     = "DTSTART"
	propDtEnd       = "DTEND"

	componentEvent = "VEVENT"
)

// contentLine is one logical line split into NAME, parameters and value.
//
//	NAME[;PARAM=VALUE...]:VALUE
//
// The value is everything after the last colon on the line; parameters are
// the ';'-separated segments between the name and that colon.
type contentLine struct {
	Name   string
	Params []string
	Value  string
}

// hasParam reports whether a parameter key=value pair is present, compared
// case-insensitively.
func (c contentLine) hasParam(key, value string) bool {
	for _, p := range c.Params {
		k, v, ok := strings.Cut(p, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) && strings.EqualFold(strings.Trim(strings.TrimSpace(v), `"`), value) {
			return true
		}
	}
	return false
}

// tokenizeLine splits a logical line. ok is false when the line has no colon
// and therefore no value.
func tokenizeLine(line string) (contentLine, bool) {
	last := strings.LastIndexByte(line, ':')
	if last < 0 {
		return contentLine{}, false
	}

	head := line[:last]
	cl := contentLine{Value: line[last+1:]}

	nameEnd := strings.IndexAny(line, ":;")
	cl.Name = strings.ToUpper(strings.TrimSpace(line[:nameEnd]))
	if line[nameEnd] == ';' {
		for _, p := range strings.Split(head[nameEnd+1:], ";") {
			if p != "" {
				cl.Params = append(cl.Params, p)
			}
		}
	}
	return cl, true
}

// blockBuilder accumulates the recognised properties of one VEVENT.
type blockBuilder struct {
	ev       model.Event
	hasStart bool
	// depth counts nested sub-components such as VALARM.
	depth int
}

// lineOutcome describes what a single line inside a block did.
type lineOutcome int

const (
	outcomeApplied lineOutcome = iota
	outcomeIgnored
	outcomeSkipped // malformed line or unparseable date
)

// apply feeds one content line into the builder and reports the outcome.
func (b *blockBuilder) apply(cl contentLine) lineOutcome {
	switch cl.Name {
	case propSummary:
		b.ev.Summary = UnescapeText(cl.Value)
	case propDescription:
		b.ev.Description = UnescapeText(cl.Value)
	case propLocation:
		b.ev.Location = UnescapeText(cl.Value)
	case propUID:
		b.ev.UID = strings.TrimSpace(cl.Value)
	case propDtStart:
		t, allDay, err := ResolveDateTime(cl.Value, cl.hasParam("VALUE", "DATE"))
		if err != nil {
			appLog.Debug("ics: DTSTART skipped", "value", cl.Value, "reason", err)
			return outcomeSkipped
		}
		b.ev.Start = t
		b.ev.AllDay = allDay
		b.hasStart = true
	case propDtEnd:
		t, _, err := ResolveDateTime(cl.Value, false)
		if err != nil {
			appLog.Debug("ics: DTEND skipped", "value", cl.Value, "reason", err)
			return outcomeSkipped
		}
		b.ev.End = t
	default:
		return outcomeIgnored
	}
	return outcomeApplied
}

// event returns the built event when the retention rule holds: SUMMARY and a
// parsed DTSTART are both required.
func (b *blockBuilder) event() (model.Event, bool) {
	if b.ev.Summary == "" || !b.hasStart {
		return model.Event{}, false
	}
	return b.ev, true
}

// ParseEvents extracts every VEVENT block from the unfolded lines, in source
// order. Malformed lines and blocks are dropped individually; parsing never
// fails as a whole.
//
// sourceID is copied onto every event.
func ParseEvents(lines []string, sourceID string) []model.Event {
	events := make([]model.Event, 0)
	var cur *blockBuilder
	dropped, skipped := 0, 0

	for _, raw := range lines {
		line := strings.TrimSuffix(raw, "\r")

		if marker, comp, ok := componentMarker(line); ok {
			switch {
			case marker == "BEGIN" && comp == componentEvent:
				if cur != nil {
					// Unterminated block; start over.
					dropped++
				}
				cur = &blockBuilder{ev: model.Event{SourceID: sourceID}}
			case cur == nil:
				// Outside a VEVENT (VCALENDAR, VTIMEZONE, ...).
			case marker == "BEGIN":
				cur.depth++
			case marker == "END" && comp == componentEvent:
				if ev, ok := cur.event(); ok {
					events = append(events, ev)
				} else {
					dropped++
				}
				cur = nil
			case marker == "END" && cur.depth > 0:
				cur.depth--
			}
			continue
		}

		if cur == nil || cur.depth > 0 {
			continue
		}

		cl, ok := tokenizeLine(line)
		if !ok {
			skipped++
			continue
		}
		if cur.apply(cl) == outcomeSkipped {
			skipped++
		}
	}

	if cur != nil {
		dropped++
	}
	if dropped > 0 || skipped > 0 {
		appLog.Debug("ics: parse dropped input", "source", sourceID, "events_dropped", dropped, "lines_skipped", skipped)
	}
	return events
}

// componentMarker recognises BEGIN:<NAME> and END:<NAME> lines.
func componentMarker(line string) (marker, component string, ok bool) {
	name, value, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found {
		return "", "", false
	}
	name = strings.ToUpper(name)
	if name != "BEGIN" && name != "END" {
		return "", "", false
	}
	return name, strings.ToUpper(strings.TrimSpace(value)), true
}

// Parse is a convenience wrapper running Unfold and ParseEvents over a raw
// feed body.
func Parse(body []byte, sourceID string) []model.Event {
	return ParseEvents(Unfold(string(body)), sourceID)
}
