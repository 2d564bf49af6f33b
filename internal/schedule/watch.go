package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "confsched/internal/log"
)

const defaultDebounce = 250 * time.Millisecond

// Watch calls onChange after any of paths is written, created, renamed or
// removed. Bursts of events within the debounce interval collapse into one
// call. Parent directories are watched rather than the files, because
// editors and deploy tools usually replace files by rename.
//
// Watch returns once the watcher is set up; it stops when ctx is done.
func Watch(ctx context.Context, paths []string, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schedule: watch: %w", err)
	}

	targets := make([]string, 0, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return fmt.Errorf("schedule: watch %s: %w", p, err)
		}
		targets = append(targets, abs)
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("schedule: watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		fire := func() {
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, onChange)
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !slices.Contains(targets, filepath.Clean(ev.Name)) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				appLog.Debug("schedule file changed", "path", ev.Name, "op", ev.Op.String())
				fire()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				appLog.Error("schedule watch error", err)
			}
		}
	}()

	return nil
}
