package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is the quiet period after the last write before reloading.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches configuration files and calls their reload function
// when they change.
type Reloader struct {
	watcher *fsnotify.Watcher
	targets map[string]func() error
	log     *slog.Logger
}

// NewReloader watches each existing path in targets. Missing files are
// skipped.
func NewReloader(targets map[string]func() error, log *slog.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	watched := make(map[string]func() error)
	for p, fn := range targets {
		if p == "" || fn == nil {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
		watched[p] = fn
	}

	return &Reloader{watcher: watcher, targets: watched, log: log}, nil
}

// Watched returns the number of files being watched.
func (r *Reloader) Watched() int {
	return len(r.targets)
}

// Run reloads changed files until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			fn := r.targets[event.Name]
			if fn == nil || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			name := event.Name
			mu.Lock()
			if t := timers[name]; t != nil {
				t.Stop()
			}
			timers[name] = time.AfterFunc(reloadDebounce, func() {
				if err := fn(); err != nil {
					r.log.Error("hot-reload failed", "path", name, "err", err)
					return
				}
				r.log.Info("hot-reload complete", "path", name)
			})
			mu.Unlock()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", "err", err)
		}
	}
}
