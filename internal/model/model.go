package model

import (
	"cmp"
	"fmt"
	"time"
)

// Event is a single scheduled session of the conference.
//
// Track and Start are the only fields the tracks index looks at; the rest
// are passthrough data for the presentation layer.
type Event struct {
	SourceID string `json:"source_id,omitempty"` // schedule source ID (config ICS ID or file path)
	ID       string `json:"id"`

	Track       string   `json:"track"`
	Title       string   `json:"title"`
	Room        string   `json:"room,omitempty"`
	Speakers    []string `json:"speakers,omitempty"`
	Description string   `json:"description,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitzero"`
}

// Day is a calendar date. The zero value is not a valid day.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day of t in loc. A nil loc keeps t's own
// location.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay parses a "2006-01-02" date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Day{}, fmt.Errorf("model: invalid day %q: %w", s, err)
	}
	return DayOf(t, nil), nil
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to
// or after o.
func (d Day) Compare(o Day) int {
	switch {
	case d.Year != o.Year:
		return cmp.Compare(d.Year, o.Year)
	case d.Month != o.Month:
		return cmp.Compare(d.Month, o.Month)
	default:
		return cmp.Compare(d.Day, o.Day)
	}
}

func (d Day) Before(o Day) bool { return d.Compare(o) < 0 }

func (d Day) IsZero() bool { return d == Day{} }

// Time returns midnight of d in loc.
func (d Day) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	p, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}
