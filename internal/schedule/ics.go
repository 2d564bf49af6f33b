package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"confsched/internal/clock"
	"confsched/internal/config"
	"confsched/internal/ics"
	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// ICSProvider loads events from ICS feeds: fetch (with HTTP cache), parse,
// then expand recurrences within a window around now.
type ICSProvider struct {
	Fetcher  *ics.Fetcher
	Sources  []ics.Source
	Location *time.Location
	// Window is how far before and after now recurring events are expanded.
	Window time.Duration
	Clock  clock.Clock
}

func (p *ICSProvider) Events(ctx context.Context) ([]model.Event, error) {
	results, errs := p.Fetcher.FetchAll(ctx, p.Sources)
	if len(errs) > 0 {
		return nil, fmt.Errorf("schedule: fetch ics: %w", errors.Join(errs...))
	}

	var parsed []ics.ParsedEvent
	for _, res := range results {
		evs, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			return nil, fmt.Errorf("schedule: parse ics %s: %w", res.Source.ID, err)
		}
		// Feeds without CATEGORIES are usually one feed per track.
		if res.Source.Name != "" {
			for i := range evs {
				if evs[i].Track == "" {
					evs[i].Track = res.Source.Name
				}
			}
		}
		parsed = append(parsed, evs...)
	}

	now := p.Clock.Now()
	res, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: p.Location,
		RangeStart:      now.Add(-p.Window),
		RangeEnd:        now.Add(p.Window),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if len(res.TruncatedEvents) > 0 {
		appLog.Warn("schedule: recurring events truncated", "uids", res.TruncatedEvents)
	}
	return res.Events, nil
}

// FromConfig assembles the providers named by cfg.Schedule. Files are read
// before ICS feeds.
func FromConfig(cfg *config.Config, loc *time.Location, clk clock.Clock) (Provider, error) {
	var m Multi

	if len(cfg.Schedule.Files) > 0 {
		m = append(m, &FileProvider{Paths: cfg.Schedule.Files, Location: loc})
	}

	sources := make([]ics.Source, 0, len(cfg.Schedule.ICS))
	for _, c := range cfg.Schedule.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, Name: c.Name, URL: c.URL})
	}
	if len(sources) > 0 {
		m = append(m, &ICSProvider{
			Fetcher:  ics.NewFetcher(cfg.ICSCacheDir, nil),
			Sources:  sources,
			Location: loc,
			Window:   time.Duration(cfg.Schedule.WindowDays) * 24 * time.Hour,
			Clock:    clk,
		})
	}

	if len(m) == 0 {
		return nil, ErrNoSources
	}
	return m, nil
}
