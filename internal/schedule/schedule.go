// Package schedule loads conference events from the configured sources.
//
// Providers return either the complete event list or an error. A partial
// schedule would produce a tracks index that silently misses sessions, so
// there is no "best effort" mode.
package schedule

import (
	"context"
	"errors"
	"fmt"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// Provider supplies the full list of conference events.
type Provider interface {
	Events(ctx context.Context) ([]model.Event, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) ([]model.Event, error)

func (f ProviderFunc) Events(ctx context.Context) ([]model.Event, error) {
	return f(ctx)
}

// Static always returns the same events.
type Static []model.Event

func (s Static) Events(context.Context) ([]model.Event, error) {
	return s, nil
}

// Multi concatenates the events of several providers. The first failing
// provider fails the whole load.
type Multi []Provider

func (m Multi) Events(ctx context.Context) ([]model.Event, error) {
	var all []model.Event
	for i, p := range m {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evs, err := p.Events(ctx)
		if err != nil {
			return nil, fmt.Errorf("schedule: provider %d: %w", i, err)
		}
		all = append(all, evs...)
	}
	appLog.Debug("schedule loaded", "providers", len(m), "event_count", len(all))
	return all, nil
}

// ErrNoSources is returned by FromConfig when the configuration names no schedule
// source at all.
var ErrNoSources = errors.New("schedule: no sources configured")
