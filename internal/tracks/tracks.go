// Package tracks derives the lookup views of a conference schedule: the
// sorted list of tracks, the tracks active on each day and the events of
// each track.
//
// The schedule format has no explicit track entity; a track exists only as
// the Track string of its events. Listing tracks therefore needs a pass over
// every event plus a sort, which is why the index is built once per
// schedule and then shared read-only.
package tracks

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"

	"confsched/internal/model"
)

// DayTracks lists the tracks with at least one event on Day.
type DayTracks struct {
	Day    model.Day `json:"day"`
	Tracks []string  `json:"tracks"`
}

// Index is the immutable result of Build. All accessors return copies, so
// callers can not alter an index that other goroutines are reading.
type Index struct {
	tracks         []string
	tracksForDay   []DayTracks
	eventsForTrack map[string][]model.Event
	eventCount     int
}

type options struct {
	loc *time.Location
	tag language.Tag
}

// Option configures Build.
type Option func(*options)

// WithLocation sets the location in which an event's start time is
// truncated to a day. Without it every event uses its own location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.loc = loc
	}
}

// WithLocale sets the locale whose collation rules order track names.
// The default is English.
func WithLocale(tag language.Tag) Option {
	return func(o *options) {
		o.tag = tag
	}
}

// Build derives an Index from events. The input is not modified and may be
// in any order; the same multiset of events always produces the same
// index.
//
// Every event must carry a non-blank track and a non-zero start time.
// Build stops at the first event that does not and returns an
// *InvalidEventError wrapping ErrInvalidEvent; no partial index is
// returned.
func Build(events []model.Event, opts ...Option) (*Index, error) {
	o := options{tag: language.English}
	for _, opt := range opts {
		opt(&o)
	}

	byTrack := make(map[string][]model.Event)
	byDay := make(map[model.Day]map[string]struct{})

	for i, ev := range events {
		if strings.TrimSpace(ev.Track) == "" {
			return nil, &InvalidEventError{Position: i, ID: ev.ID, Field: FieldTrack}
		}
		if ev.Start.IsZero() {
			return nil, &InvalidEventError{Position: i, ID: ev.ID, Field: FieldStart}
		}

		ev.Speakers = slices.Clone(ev.Speakers)
		byTrack[ev.Track] = append(byTrack[ev.Track], ev)

		day := model.DayOf(ev.Start, o.loc)
		set, ok := byDay[day]
		if !ok {
			set = make(map[string]struct{})
			byDay[day] = set
		}
		set[ev.Track] = struct{}{}
	}

	coll := newCollator(o.tag)

	for _, evs := range byTrack {
		slices.SortFunc(evs, compareEvents)
	}

	tracks := slices.SortedFunc(maps.Keys(byTrack), coll.compare)
	if tracks == nil {
		tracks = []string{}
	}

	days := slices.SortedFunc(maps.Keys(byDay), model.Day.Compare)
	tracksForDay := make([]DayTracks, 0, len(days))
	for _, d := range days {
		tracksForDay = append(tracksForDay, DayTracks{
			Day:    d,
			Tracks: slices.SortedFunc(maps.Keys(byDay[d]), coll.compare),
		})
	}

	return &Index{
		tracks:         tracks,
		tracksForDay:   tracksForDay,
		eventsForTrack: byTrack,
		eventCount:     len(events),
	}, nil
}

// Tracks returns every track, in collation order.
func (x *Index) Tracks() []string {
	return slices.Clone(x.tracks)
}

// HasTrack reports whether track has at least one event.
func (x *Index) HasTrack(track string) bool {
	_, ok := x.eventsForTrack[track]
	return ok
}

// TracksForDay returns the days of the schedule in chronological order,
// each with its active tracks in collation order.
func (x *Index) TracksForDay() []DayTracks {
	out := make([]DayTracks, len(x.tracksForDay))
	for i, dt := range x.tracksForDay {
		out[i] = DayTracks{Day: dt.Day, Tracks: slices.Clone(dt.Tracks)}
	}
	return out
}

// Days returns the days with at least one event, in chronological order.
func (x *Index) Days() []model.Day {
	out := make([]model.Day, len(x.tracksForDay))
	for i, dt := range x.tracksForDay {
		out[i] = dt.Day
	}
	return out
}

// TracksOn returns the tracks active on day, or nil if no event falls on
// that day.
func (x *Index) TracksOn(day model.Day) []string {
	i, found := sort.Find(len(x.tracksForDay), func(i int) int {
		return day.Compare(x.tracksForDay[i].Day)
	})
	if !found {
		return nil
	}
	return slices.Clone(x.tracksForDay[i].Tracks)
}

// EventsForTrack returns the events of track ordered by start time and
// identifier, or nil for an unknown track.
func (x *Index) EventsForTrack(track string) []model.Event {
	evs, ok := x.eventsForTrack[track]
	if !ok {
		return nil
	}
	return cloneEvents(evs)
}

// EventCountFor returns the number of events of track, 0 for an unknown
// track.
func (x *Index) EventCountFor(track string) int {
	return len(x.eventsForTrack[track])
}

// EventCount returns the number of events the index was built from.
func (x *Index) EventCount() int {
	return x.eventCount
}

// StartingBetween returns the events with from <= Start < to across all
// tracks, ordered by start time and identifier.
func (x *Index) StartingBetween(from, to time.Time) []model.Event {
	var out []model.Event
	for _, evs := range x.eventsForTrack {
		// evs is sorted by start; skip to the first candidate.
		i, _ := slices.BinarySearchFunc(evs, from, func(ev model.Event, t time.Time) int {
			return ev.Start.Compare(t)
		})
		for ; i < len(evs) && evs[i].Start.Before(to); i++ {
			out = append(out, cloneEvent(evs[i]))
		}
	}
	slices.SortFunc(out, compareEvents)
	return out
}

// MarshalJSON renders the three views. Map keys are emitted sorted, so equal
// indexes marshal to identical bytes.
func (x *Index) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Tracks         []string                 `json:"tracks"`
		TracksForDay   []DayTracks              `json:"tracks_for_day"`
		EventsForTrack map[string][]model.Event `json:"events_for_track"`
	}{x.tracks, x.tracksForDay, x.eventsForTrack})
}

func cloneEvents(evs []model.Event) []model.Event {
	out := make([]model.Event, len(evs))
	for i, ev := range evs {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneEvent(ev model.Event) model.Event {
	ev.Speakers = slices.Clone(ev.Speakers)
	return ev
}
