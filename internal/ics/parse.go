package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "confsched/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion will operate on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	// Track is the first CATEGORIES value; conference exports (pentabarf,
	// pretalx) put the track there.
	Track string
	// Speakers are the CN parameters of ATTENDEE properties, falling back
	// to the ORGANIZER CN.
	Speakers []string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - It records RRULE/EXDATE/RECURRENCE-ID but does not expand recurrences;
//     expansion is done in expand.go.
//
// A VEVENT that can not be parsed is logged and skipped; the rest of the
// feed is still returned.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	// SEQUENCE (optional, used for overrides/versioning)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		out.Track = firstCategory(p.Value)
	}
	out.Speakers = speakers(ve)

	// A missing or malformed DTSTART leaves Start zero; the index builder
	// rejects the event instead of it vanishing from the schedule.
	if start, err := ve.GetStartAt(); err == nil {
		out.Start = start
	} else {
		appLog.Warn("ics vevent without usable DTSTART", "uid", out.UID, "id", src.ID)
	}
	// DTEND is optional (DURATION or nothing); a zero End is passed through.
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	// Detect all-day: if DTSTART has VALUE=DATE or is in YYYYMMDD form
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE can appear multiple times, each with a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, out.Start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value, out.Start.Location()); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// firstCategory returns the first non-empty entry of a CATEGORIES value.
// Commas inside a category are escaped as "\,".
func firstCategory(v string) string {
	var b strings.Builder
	escaped := false
	for _, r := range v {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			if s := strings.TrimSpace(b.String()); s != "" {
				return s
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func speakers(ve *ical.VEvent) []string {
	var out []string
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if cn := commonName(p); cn != "" {
			out = append(out, cn)
		}
	}
	if len(out) == 0 {
		if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
			if cn := commonName(p); cn != "" {
				out = append(out, cn)
			}
		}
	}
	return out
}

func commonName(p *ical.IANAProperty) string {
	if cns, ok := p.ICalParameters["CN"]; ok && len(cns) > 0 {
		return strings.Trim(cns[0], `"`)
	}
	return ""
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// NOTE: This is a simplified helper for EXDATE/RECURRENCE-ID where we do
// not have the property's TZID at hand; floating values are read in loc,
// the zone of the event's DTSTART.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
