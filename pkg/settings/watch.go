package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor emits on save.
const DefaultDebounce = 250 * time.Millisecond

// Watch calls onChange after the file at path is written, created, replaced,
// or removed, once per burst of events separated by less than debounce. The
// parent directory is watched so that atomic replacements are seen. Watch
// blocks until ctx is done or the watcher fails.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("watching settings file", "path", path)

	var (
		mu      sync.Mutex
		timer   *time.Timer
		running sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			running.Done()
		}
		mu.Unlock()
		running.Wait()
	}()

	fire := func() {
		defer running.Done()
		if ctx.Err() != nil {
			return
		}
		onChange(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, path) {
				continue
			}
			logger.Debug("settings file event", "path", event.Name, "op", event.Op.String())
			mu.Lock()
			if timer == nil || !timer.Stop() {
				running.Add(1)
			}
			timer = time.AfterFunc(debounce, fire)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
