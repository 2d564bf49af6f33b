// Package favorites stores the tracks and events a user has starred.
//
// Favorites are kept independently of the tracks index: they reference
// track names and event IDs, and survive schedule reloads even if a
// favorited track disappears.
package favorites

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"confsched/internal/config"
	appLog "confsched/internal/log"
)

// ErrEmptyID is returned when adding a blank track or event identifier.
var ErrEmptyID = errors.New("favorites: empty identifier")

type fileFormat struct {
	Tracks []string `yaml:"tracks"`
	Events []string `yaml:"events"`
}

// Store is safe for concurrent use. A Store with an empty path keeps
// favorites in memory only.
type Store struct {
	path string

	mu     sync.RWMutex
	tracks map[string]struct{}
	events map[string]struct{}
}

// Open loads the favorites file at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		tracks: make(map[string]struct{}),
		events: make(map[string]struct{}),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("favorites: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("favorites: parse %s: %w", path, err)
	}
	for _, t := range f.Tracks {
		s.tracks[t] = struct{}{}
	}
	for _, e := range f.Events {
		s.events[e] = struct{}{}
	}
	appLog.Debug("favorites loaded", "path", path, "tracks", len(s.tracks), "events", len(s.events))
	return s, nil
}

func (s *Store) AddTrack(track string) error {
	return s.update(s.tracks, track, true)
}

func (s *Store) RemoveTrack(track string) error {
	return s.update(s.tracks, track, false)
}

func (s *Store) AddEvent(id string) error {
	return s.update(s.events, id, true)
}

func (s *Store) RemoveEvent(id string) error {
	return s.update(s.events, id, false)
}

func (s *Store) update(set map[string]struct{}, id string, add bool) error {
	if add && strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, had := set[id]
	if add == had {
		return nil
	}
	if add {
		set[id] = struct{}{}
	} else {
		delete(set, id)
	}
	return s.saveLocked()
}

// Reset removes every favorite.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tracks)
	clear(s.events)
	return s.saveLocked()
}

// ReplaceEvents sets the favorited events to exactly ids.
func (s *Store) ReplaceEvents(ids []string) error {
	return s.replace(s.events, ids)
}

// ReplaceTracks sets the favorited tracks to exactly tracks.
func (s *Store) ReplaceTracks(tracks []string) error {
	return s.replace(s.tracks, tracks)
}

func (s *Store) replace(set map[string]struct{}, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(set)
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return s.saveLocked()
}

// Tracks returns the favorited tracks, sorted.
func (s *Store) Tracks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.tracks)
}

// Events returns the favorited event IDs, sorted.
func (s *Store) Events() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.events)
}

func (s *Store) IsTrack(track string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracks[track]
	return ok
}

func (s *Store) IsEvent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[id]
	return ok
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(fileFormat{
		Tracks: sortedKeys(s.tracks),
		Events: sortedKeys(s.events),
	})
	if err != nil {
		return fmt.Errorf("favorites: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("favorites: save %s: %w", s.path, err)
	}
	return nil
}

// ApplyDebugEnv applies the startup overrides in d: reset first, then
// replace events and tracks when given.
func (s *Store) ApplyDebugEnv(d config.DebugEnv) error {
	if d.ResetFavorites {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	if d.FavoriteEvents != nil {
		if err := s.ReplaceEvents(d.FavoriteEvents); err != nil {
			return err
		}
	}
	if d.FavoriteTracks != nil {
		if err := s.ReplaceTracks(d.FavoriteTracks); err != nil {
			return err
		}
	}
	if d.Active() {
		appLog.Info("favorites debug overrides applied",
			"reset", d.ResetFavorites,
			"events", len(d.FavoriteEvents),
			"tracks", len(d.FavoriteTracks),
		)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := slices.Sorted(maps.Keys(m))
	if keys == nil {
		keys = []string{}
	}
	return keys
}
