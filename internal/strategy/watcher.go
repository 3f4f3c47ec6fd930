package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher re-imports the strategy seed file when it changes on disk and
// triggers a cache reload. This is the explicit reload signal; the cron
// refresh covers changes written to the store directly.
type Watcher struct {
	path   string
	seeder Seeder
	cache  *Cache
	log    zerolog.Logger
}

// NewWatcher builds a watcher for a seed file.
func NewWatcher(path string, seeder Seeder, cache *Cache, log zerolog.Logger) *Watcher {
	return &Watcher{path: path, seeder: seeder, cache: cache, log: log}
}

// Start watches the seed file until the context is cancelled. Events
// are debounced so editors that write in bursts trigger one reload.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	go func() {
		defer fsw.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(200 * time.Millisecond)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(200 * time.Millisecond)
					timerC = timer.C
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("strategy seed watcher error")
			case <-timerC:
				timerC = nil
				w.reimport()
			}
		}
	}()

	return nil
}

func (w *Watcher) reimport() {
	count, err := ImportSeed(w.seeder, w.path)
	if err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("seed re-import failed")
		return
	}
	if err := w.cache.Reload(); err != nil {
		w.log.Error().Err(err).Msg("cache reload after seed import failed")
		return
	}
	w.log.Info().Int("count", count).Msg("strategy seed re-imported")
}
