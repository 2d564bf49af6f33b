package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// fileSchedule is the on-disk schedule format. The same shape is accepted
// as YAML (.yaml, .yml) and JSON (.json, .jsonc; comments allowed):
//
//	timezone: Europe/Brussels
//	events:
//	  - id: 1
//	    track: Go
//	    title: Go tooling in 2026
//	    room: UD2.218A
//	    speakers: [Jane Doe]
//	    start: 2026-02-01 10:00
//	    end: 2026-02-01 10:25
type fileSchedule struct {
	Timezone string      `yaml:"timezone" json:"timezone"`
	Events   []fileEvent `yaml:"events" json:"events"`
}

type fileEvent struct {
	ID          flexID   `yaml:"id" json:"id"`
	Track       string   `yaml:"track" json:"track"`
	Title       string   `yaml:"title" json:"title"`
	Room        string   `yaml:"room" json:"room"`
	Speakers    []string `yaml:"speakers" json:"speakers"`
	Description string   `yaml:"description" json:"description"`
	Start       string   `yaml:"start" json:"start"`
	End         string   `yaml:"end" json:"end"`
}

// flexID accepts both numeric and string identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// Layouts tried, in order, for start/end values without an explicit
// offset; those are read in the schedule's timezone.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// FileProvider reads events from local schedule files.
type FileProvider struct {
	Paths []string
	// Location is used for times without offset when the file does not
	// name a timezone. Nil means UTC.
	Location *time.Location
}

func (p *FileProvider) Events(ctx context.Context) ([]model.Event, error) {
	var all []model.Event
	for _, path := range p.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evs, err := p.readFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}
	return all, nil
}

func (p *FileProvider) readFile(path string) ([]model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}

	var fs fileSchedule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Comments and trailing commas are allowed in JSON schedules.
		err = json.Unmarshal(jsonc.ToJSON(data), &fs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fs)
	default:
		return nil, fmt.Errorf("schedule: %s: unsupported file type", path)
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %s: %w", path, err)
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	if fs.Timezone != "" {
		if loc, err = time.LoadLocation(fs.Timezone); err != nil {
			return nil, fmt.Errorf("schedule: %s: timezone %q: %w", path, fs.Timezone, err)
		}
	}

	base := filepath.Base(path)
	out := make([]model.Event, 0, len(fs.Events))
	for i, fe := range fs.Events {
		ev := model.Event{
			SourceID:    path,
			ID:          string(fe.ID),
			Track:       fe.Track,
			Title:       fe.Title,
			Room:        fe.Room,
			Speakers:    fe.Speakers,
			Description: fe.Description,
		}
		if ev.ID == "" {
			ev.ID = base + "#" + strconv.Itoa(i+1)
		}
		// A missing start stays zero; the index builder rejects it.
		if fe.Start != "" {
			if ev.Start, err = parseTime(fe.Start, loc); err != nil {
				return nil, fmt.Errorf("schedule: %s: event %d start: %w", path, i+1, err)
			}
		}
		if fe.End != "" {
			if ev.End, err = parseTime(fe.End, loc); err != nil {
				return nil, fmt.Errorf("schedule: %s: event %d end: %w", path, i+1, err)
			}
		}
		out = append(out, ev)
	}

	appLog.Debug("schedule file loaded", "path", path, "event_count", len(out))
	return out, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
