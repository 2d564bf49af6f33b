package schedule

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"confsched/internal/clock"
	"confsched/internal/config"
	"confsched/internal/model"
)

const yamlSchedule = `
events:
  - id: 1
    track: Go
    title: Go tooling
    room: UD2.218A
    speakers: [Jane Doe, Rob]
    start: "2026-02-01 10:00"
    end: "2026-02-01 10:25"
  - id: abc
    track: Rust
    title: Borrowing
    start: "2026-02-01T11:00:00Z"
  - track: Rust
    title: Untitled slot
    start: "2026-02-02T09:30"
`

const jsonSchedule = `{
	"timezone": "UTC",
	// Devroom schedule, second half pending.
	"events": [
		{"id": 42, "track": "Databases", "title": "SQLite", "start": "2026-02-01 09:00"},
		{"id": "43", "track": "Databases", "title": "Postgres"},
	],
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	cet := time.FixedZone("CET", 3600)
	yml := writeFile(t, dir, "fosdem.yaml", yamlSchedule)
	js := writeFile(t, dir, "extra.jsonc", jsonSchedule)

	p := &FileProvider{Paths: []string{yml, js}, Location: cet}
	events, err := p.Events(context.Background())
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("Events() returned %d events, want 5", len(events))
	}

	first := events[0]
	want := model.Event{
		SourceID: yml,
		ID:       "1",
		Track:    "Go",
		Title:    "Go tooling",
		Room:     "UD2.218A",
		Speakers: []string{"Jane Doe", "Rob"},
		Start:    time.Date(2026, 2, 1, 10, 0, 0, 0, cet),
		End:      time.Date(2026, 2, 1, 10, 25, 0, 0, cet),
	}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("events[0] = %+v, want %+v", first, want)
	}
	if got := events[1].Start; !got.Equal(time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("events[1].Start = %v", got)
	}
	if got := events[2].ID; got != "fosdem.yaml#3" {
		t.Errorf("generated ID = %q", got)
	}

	// File timezone overrides the provider location.
	if got := events[3]; got.ID != "42" || got.Start.Location().String() != "UTC" {
		t.Errorf("events[3] = %+v", got)
	}
	if got := events[4]; got.ID != "43" || !got.Start.IsZero() {
		t.Errorf("events[4] = %+v, want zero start passed through", got)
	}
}

func TestFileProvider_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"bad time", "bad.yaml", "events:\n  - id: 1\n    track: Go\n    start: next tuesday\n"},
		{"bad yaml", "broken.yaml", "events: [\n"},
		{"bad json id", "broken.json", `{"events":[{"id":{}}]}`},
		{"unknown zone", "zone.yaml", "timezone: Mars/Olympus\nevents: []\n"},
		{"unsupported", "schedule.xml", "<schedule/>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.body)
			p := &FileProvider{Paths: []string{path}}
			if _, err := p.Events(context.Background()); err == nil {
				t.Error("Events() succeeded")
			}
		})
	}

	missing := &FileProvider{Paths: []string{filepath.Join(dir, "nope.yaml")}}
	if _, err := missing.Events(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestMulti(t *testing.T) {
	a := Static{{ID: "1", Track: "Go"}}
	b := ProviderFunc(func(context.Context) ([]model.Event, error) {
		return []model.Event{{ID: "2", Track: "Rust"}}, nil
	})
	events, err := Multi{a, b}.Events(context.Background())
	if err != nil || len(events) != 2 {
		t.Fatalf("Events() = %v, %v", events, err)
	}

	boom := errors.New("boom")
	failing := ProviderFunc(func(context.Context) ([]model.Event, error) { return nil, boom })
	if _, err := (Multi{a, failing}).Events(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Events() error = %v, want boom", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Multi{a}).Events(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Events(canceled) error = %v", err)
	}
}

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//confsched//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:t1\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260201T090000Z\r\nDTEND:20260201T093000Z\r\nSUMMARY:Welcome\r\nCATEGORIES:Keynotes\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:t2\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260201T100000Z\r\nDTEND:20260201T103000Z\r\nSUMMARY:Lightning\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFromConfig_ICS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/main.ics") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.ICSCacheDir = t.TempDir()
	cfg.Schedule.ICS = []config.ICSConfig{{ID: "main", Name: "Lightning talks", URL: srv.URL + "/main.ics"}}

	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	p, err := FromConfig(cfg, time.UTC, clock.Fixed(now))
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	events, err := p.Events(context.Background())
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	tracks := map[string]string{}
	for _, ev := range events {
		tracks[ev.ID] = ev.Track
	}
	want := map[string]string{"t1": "Keynotes", "t2": "Lightning talks"}
	if !reflect.DeepEqual(tracks, want) {
		t.Errorf("tracks = %v, want %v (feed name as fallback track)", tracks, want)
	}

	cfg.Schedule.ICS = append(cfg.Schedule.ICS, config.ICSConfig{ID: "gone", URL: srv.URL + "/gone.ics"})
	p, err = FromConfig(cfg, time.UTC, clock.Fixed(now))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Events(context.Background()); err == nil {
		t.Error("Events() with a failing feed succeeded")
	}
}

func TestFromConfig_NoSources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Schedule.ICS = []config.ICSConfig{{ID: "blank"}}
	if _, err := FromConfig(cfg, time.UTC, clock.System{}); !errors.Is(err, ErrNoSources) {
		t.Errorf("FromConfig() error = %v, want ErrNoSources", err)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fosdem.yaml", yamlSchedule)
	writeFile(t, dir, "unrelated.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	if err := Watch(ctx, []string{path}, 20*time.Millisecond, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeFile(t, dir, "unrelated.txt", "y")
	select {
	case <-changed:
		t.Fatal("onChange fired for an unwatched file")
	case <-time.After(200 * time.Millisecond):
	}

	writeFile(t, dir, "fosdem.yaml", yamlSchedule+"\n")
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange not called after schedule file write")
	}
}
