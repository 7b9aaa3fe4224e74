package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/agentd/internal/logging"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads store whenever config.yaml changes and then calls onChange.
// The directory is watched rather than the file so that editors replacing
// the file are noticed. Watch returns once the watcher is running; it stops
// when ctx is cancelled.
func Watch(ctx context.Context, store *FileStore, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(store.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", store.Dir(), err)
	}

	target := filepath.Clean(store.ParamsPath())
	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := store.Reload(); err != nil {
					logging.Warn().Err(err).Str("path", target).Msg("config reload failed")
					continue
				}
				logging.Info().Str("path", target).Msg("config reloaded")
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
