package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"confsched/internal/clock"
	"confsched/internal/config"
	"confsched/internal/favorites"
	"confsched/internal/indexer"
	"confsched/internal/model"
	"confsched/internal/schedule"
)

var now = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func testEvents() []model.Event {
	at := func(h, m int) time.Time { return time.Date(2026, 2, 1, h, m, 0, 0, time.UTC) }
	return []model.Event{
		{ID: "1", Track: "Go", Title: "Generics", Start: at(10, 30)},
		{ID: "2", Track: "Rust", Title: "Borrowing", Start: at(10, 15)},
		{ID: "3", Track: "Go", Title: "Iterators", Start: at(12, 0)},
		{ID: "4", Track: "Go/Web", Title: "net/http", Start: at(9, 0)},
		{ID: "5", Track: "Rust", Title: "Async", Start: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, build bool) (*Server, *favorites.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clk := clock.Fixed(now)
	idx := indexer.New(schedule.Static(testEvents()), clk)
	if build {
		if _, err := indexer.Await(context.Background(), idx.Rebuild(context.Background())); err != nil {
			t.Fatalf("Rebuild() error = %v", err)
		}
	}
	favs, err := favorites.Open("")
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(context.Background(), cfg, idx, favs, clk), favs
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, false)
	rr := do(t, s.Handler(), http.MethodGet, "/health")
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rr.Code, rr.Body.String())
	}
}

func TestUnavailableBeforeFirstBuild(t *testing.T) {
	s, _ := newTestServer(t, nil, false)
	for _, target := range []string{"/api/tracks", "/api/tracks/Go/events", "/api/soon"} {
		rr := do(t, s.Handler(), http.MethodGet, target)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", target, rr.Code)
			continue
		}
		if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"schedule unavailable"}` {
			t.Errorf("GET %s body = %s", target, got)
		}
	}

	rr := do(t, s.Handler(), http.MethodGet, "/api/status")
	if st := decode[indexer.Status](t, rr); st.Ready {
		t.Errorf("status = %+v, want not ready", st)
	}
}

func TestTracks(t *testing.T) {
	s, favs := newTestServer(t, nil, true)
	_ = favs.AddTrack("Rust")

	rr := do(t, s.Handler(), http.MethodGet, "/api/tracks")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /api/tracks = %d", rr.Code)
	}
	resp := decode[tracksResponse](t, rr)

	want := []trackJSON{
		{Name: "Go", EventCount: 2},
		{Name: "Go/Web", EventCount: 1},
		{Name: "Rust", Favorite: true, EventCount: 2},
	}
	if !reflect.DeepEqual(resp.Tracks, want) {
		t.Errorf("tracks = %+v, want %+v", resp.Tracks, want)
	}
	if len(resp.TracksForDay) != 2 || resp.Generation != 1 || !resp.BuiltAt.Equal(now) {
		t.Errorf("response = %+v", resp)
	}

	rr = do(t, s.Handler(), http.MethodGet, "/api/tracks?day=2026-02-02")
	resp = decode[tracksResponse](t, rr)
	if len(resp.TracksForDay) != 1 || !reflect.DeepEqual(resp.TracksForDay[0].Tracks, []string{"Rust"}) {
		t.Errorf("tracks_for_day(2026-02-02) = %+v", resp.TracksForDay)
	}

	rr = do(t, s.Handler(), http.MethodGet, "/api/tracks?day=2026-03-01")
	if resp = decode[tracksResponse](t, rr); len(resp.TracksForDay) != 0 {
		t.Errorf("tracks_for_day(no events) = %+v", resp.TracksForDay)
	}

	if rr := do(t, s.Handler(), http.MethodGet, "/api/tracks?day=tomorrow"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid day = %d, want 400", rr.Code)
	}
}

func TestTrackEvents(t *testing.T) {
	s, favs := newTestServer(t, nil, true)
	_ = favs.AddEvent("3")

	rr := do(t, s.Handler(), http.MethodGet, "/api/tracks/Go/events")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET = %d", rr.Code)
	}
	resp := decode[trackEventsResponse](t, rr)
	if resp.Track != "Go" || len(resp.Events) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Events[0].ID != "1" || resp.Events[0].Favorite || resp.Events[1].ID != "3" || !resp.Events[1].Favorite {
		t.Errorf("events = %+v", resp.Events)
	}

	// Escaped slash stays inside the path segment.
	rr = do(t, s.Handler(), http.MethodGet, "/api/tracks/Go%2FWeb/events")
	if rr.Code != http.StatusOK || decode[trackEventsResponse](t, rr).Track != "Go/Web" {
		t.Errorf("GET Go/Web = %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, s.Handler(), http.MethodGet, "/api/tracks/Haskell/events"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown track = %d, want 404", rr.Code)
	}
}

func TestSoon(t *testing.T) {
	s, favs := newTestServer(t, nil, true)

	rr := do(t, s.Handler(), http.MethodGet, "/api/soon")
	resp := decode[soonResponse](t, rr)
	var ids []string
	for _, ev := range resp.Events {
		ids = append(ids, ev.ID)
	}
	// Window is [10:00, 11:00): 10:15 Rust, 10:30 Go.
	if !reflect.DeepEqual(ids, []string{"2", "1"}) {
		t.Errorf("soon ids = %v", ids)
	}
	if !resp.Until.Equal(now.Add(time.Hour)) {
		t.Errorf("until = %v", resp.Until)
	}

	_ = favs.AddTrack("Go")
	rr = do(t, s.Handler(), http.MethodGet, "/api/soon?favorites=true")
	if resp = decode[soonResponse](t, rr); len(resp.Events) != 1 || resp.Events[0].ID != "1" {
		t.Errorf("favorites only = %+v", resp.Events)
	}

	if rr := do(t, s.Handler(), http.MethodGet, "/api/soon?favorites=maybe"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid flag = %d, want 400", rr.Code)
	}
}

func TestFavoritesEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil, true)
	h := s.Handler()

	steps := []struct {
		method, target string
		want           int
	}{
		{http.MethodPut, "/api/favorites/tracks/Go", http.StatusNoContent},
		{http.MethodPut, "/api/favorites/tracks/Rust", http.StatusNoContent},
		{http.MethodDelete, "/api/favorites/tracks/Rust", http.StatusNoContent},
		{http.MethodPut, "/api/favorites/events/5", http.StatusNoContent},
		{http.MethodPut, "/api/favorites/events/%20", http.StatusBadRequest},
		{http.MethodDelete, "/api/favorites/events/unknown", http.StatusNoContent},
		{http.MethodPost, "/api/favorites/events/5", http.StatusMethodNotAllowed},
	}
	for _, st := range steps {
		if rr := do(t, h, st.method, st.target); rr.Code != st.want {
			t.Errorf("%s %s = %d, want %d", st.method, st.target, rr.Code, st.want)
		}
	}

	got := decode[favoritesResponse](t, do(t, h, http.MethodGet, "/api/favorites"))
	want := favoritesResponse{Tracks: []string{"Go"}, Events: []string{"5"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("favorites = %+v, want %+v", got, want)
	}
}

func TestRefresh(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	rr := do(t, s.Handler(), http.MethodPost, "/api/refresh?wait=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /api/refresh?wait=1 = %d %s", rr.Code, rr.Body.String())
	}
	if st := decode[indexer.Status](t, rr); st.Generation != 2 || !st.Ready {
		t.Errorf("status after refresh = %+v", st)
	}

	if rr := do(t, s.Handler(), http.MethodPost, "/api/refresh"); rr.Code != http.StatusAccepted {
		t.Errorf("POST /api/refresh = %d, want 202", rr.Code)
	}
	if rr := do(t, s.Handler(), http.MethodGet, "/api/refresh"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh = %d, want 405", rr.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	s, _ := newTestServer(t, cfg, true)
	h := s.Handler()

	tests := []struct {
		name       string
		target     string
		user, pass string
		want       int
	}{
		{name: "health is open", target: "/health", want: http.StatusOK},
		{name: "no credentials", target: "/api/tracks", want: http.StatusUnauthorized},
		{name: "wrong password", target: "/api/tracks", user: "admin", pass: "nope", want: http.StatusUnauthorized},
		{name: "valid", target: "/api/tracks", user: "admin", pass: "s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestGzipResponses(t *testing.T) {
	s, favs := newTestServer(t, nil, true)
	for i := range 200 {
		_ = favs.AddEvent(fmt.Sprintf("event-%03d", i))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/favorites", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	var got favoritesResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Events) != 200 {
		t.Errorf("len(events) = %d, want 200", len(got.Events))
	}
}
