package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"confsched/internal/favorites"
	"confsched/internal/indexer"
	appLog "confsched/internal/log"
	"confsched/internal/model"
	"confsched/internal/tracks"
)

type trackJSON struct {
	Name       string `json:"name"`
	Favorite   bool   `json:"favorite"`
	EventCount int    `json:"event_count"`
}

type eventJSON struct {
	model.Event
	Favorite bool `json:"favorite"`
}

type tracksResponse struct {
	Generation   uint64             `json:"generation"`
	BuiltAt      time.Time          `json:"built_at"`
	Tracks       []trackJSON        `json:"tracks"`
	TracksForDay []tracks.DayTracks `json:"tracks_for_day"`
}

type trackEventsResponse struct {
	Track    string      `json:"track"`
	Favorite bool        `json:"favorite"`
	Events   []eventJSON `json:"events"`
}

type soonResponse struct {
	Now    time.Time   `json:"now"`
	Until  time.Time   `json:"until"`
	Events []eventJSON `json:"events"`
}

type favoritesResponse struct {
	Tracks []string `json:"tracks"`
	Events []string `json:"events"`
}

// snapshot returns the published index, or writes 503 and returns nil.
func (s *Server) snapshot(w http.ResponseWriter) *indexer.Snapshot {
	snap := s.idx.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "schedule unavailable")
	}
	return snap
}

// handleTracks returns all tracks with favorite flags and the per-day view.
// ?day=YYYY-MM-DD narrows tracks_for_day to a single day.
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	idx := snap.Index

	byDay := idx.TracksForDay()
	if v := r.URL.Query().Get("day"); v != "" {
		day, err := model.ParseDay(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid day")
			return
		}
		byDay = []tracks.DayTracks{}
		if names := idx.TracksOn(day); len(names) > 0 {
			byDay = append(byDay, tracks.DayTracks{Day: day, Tracks: names})
		}
	}

	names := idx.Tracks()
	resp := tracksResponse{
		Generation:   snap.Generation,
		BuiltAt:      snap.BuiltAt,
		Tracks:       make([]trackJSON, 0, len(names)),
		TracksForDay: byDay,
	}
	for _, name := range names {
		resp.Tracks = append(resp.Tracks, trackJSON{
			Name:       name,
			Favorite:   s.favs.IsTrack(name),
			EventCount: idx.EventCountFor(name),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrackEvents(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	track := r.PathValue("track")
	if !snap.Index.HasTrack(track) {
		writeError(w, http.StatusNotFound, "unknown track")
		return
	}
	writeJSON(w, http.StatusOK, trackEventsResponse{
		Track:    track,
		Favorite: s.favs.IsTrack(track),
		Events:   s.withFavorites(snap.Index.EventsForTrack(track), false),
	})
}

// handleSoon lists events starting within the configured soon window.
// ?favorites=1 keeps only favorited events and events of favorited tracks.
func (s *Server) handleSoon(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	onlyFavorites := false
	if v := r.URL.Query().Get("favorites"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid favorites flag")
			return
		}
		onlyFavorites = b
	}

	now := s.clock.Now()
	until := now.Add(s.cfg.SoonDuration())
	writeJSON(w, http.StatusOK, soonResponse{
		Now:    now,
		Until:  until,
		Events: s.withFavorites(snap.Index.StartingBetween(now, until), onlyFavorites),
	})
}

func (s *Server) withFavorites(evs []model.Event, onlyFavorites bool) []eventJSON {
	out := make([]eventJSON, 0, len(evs))
	for _, ev := range evs {
		fav := s.favs.IsEvent(ev.ID)
		if onlyFavorites && !fav && !s.favs.IsTrack(ev.Track) {
			continue
		}
		out = append(out, eventJSON{Event: ev, Favorite: fav})
	}
	return out
}

func (s *Server) handleFavorites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, favoritesResponse{
		Tracks: s.favs.Tracks(),
		Events: s.favs.Events(),
	})
}

func (s *Server) handleFavoriteTrack(w http.ResponseWriter, r *http.Request) {
	track := r.PathValue("track")
	var err error
	if r.Method == http.MethodPut {
		err = s.favs.AddTrack(track)
	} else {
		err = s.favs.RemoveTrack(track)
	}
	s.finishFavorite(w, err, "track", track)
}

func (s *Server) handleFavoriteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	if r.Method == http.MethodPut {
		err = s.favs.AddEvent(id)
	} else {
		err = s.favs.RemoveEvent(id)
	}
	s.finishFavorite(w, err, "event", id)
}

func (s *Server) finishFavorite(w http.ResponseWriter, err error, kind, id string) {
	switch {
	case errors.Is(err, favorites.ErrEmptyID):
		writeError(w, http.StatusBadRequest, "empty "+kind)
	case err != nil:
		appLog.Error("failed to save favorites", err, kind, id)
		writeError(w, http.StatusInternalServerError, "failed to save favorites")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleRefresh schedules a rebuild. With ?wait=1 it blocks until the
// rebuild finishes and reports the resulting status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	ch := s.idx.Rebuild(s.baseCtx)
	appLog.Info("schedule refresh requested", "wait", wait)
	if !wait {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
		return
	}

	if _, err := indexer.Await(r.Context(), ch); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.idx.Status())
}
