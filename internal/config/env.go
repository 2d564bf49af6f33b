package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DebugEnv holds overrides used by UI tests and demos to start the service
// in a known state.
type DebugEnv struct {
	// ResetFavorites clears all favorited tracks and events at startup.
	ResetFavorites bool `env:"CONFSCHED_RESET_FAVORITES"`

	// FavoriteEvents, when set, replaces the favorited event IDs.
	FavoriteEvents []string `env:"CONFSCHED_FAVORITE_EVENTS" envSeparator:","`

	// FavoriteTracks, when set, replaces the favorited tracks.
	FavoriteTracks []string `env:"CONFSCHED_FAVORITE_TRACKS" envSeparator:","`

	// SoonDate pins the clock used for "starting soon" queries.
	SoonDate *time.Time `env:"CONFSCHED_SOON_DATE"`
}

// LoadDebugEnv parses DebugEnv from the process environment.
func LoadDebugEnv() (DebugEnv, error) {
	var d DebugEnv
	if err := env.Parse(&d); err != nil {
		return DebugEnv{}, fmt.Errorf("config: parse env: %w", err)
	}
	return d, nil
}

// LoadDebugEnvFrom parses DebugEnv from vars instead of the process
// environment.
func LoadDebugEnvFrom(vars map[string]string) (DebugEnv, error) {
	var d DebugEnv
	if err := env.ParseWithOptions(&d, env.Options{Environment: vars}); err != nil {
		return DebugEnv{}, fmt.Errorf("config: parse env: %w", err)
	}
	return d, nil
}

// Active reports whether any override is set.
func (d DebugEnv) Active() bool {
	return d.ResetFavorites || d.FavoriteEvents != nil || d.FavoriteTracks != nil || d.SoonDate != nil
}
