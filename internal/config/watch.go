package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/neboloop/browserd/internal/logging"
)

// Watch reloads the config file at path over base whenever it changes and
// hands the result to apply. Invalid edits are logged and skipped. It blocks
// until the context is cancelled.
func Watch(ctx context.Context, base Config, path string, apply func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename.
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	logging.Infof("[config] Watching %s for changes", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			c, err := LoadFile(base, path)
			if err != nil {
				logging.Warnf("[config] Ignoring invalid edit: %v", err)
				continue
			}
			logging.Infof("[config] Reloaded %s", path)
			apply(c)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("[config] Watcher error: %v", err)
		}
	}
}

// Reloadable is the subset of settings applied without a restart.
type Reloadable struct {
	LogLevel    string
	MaxSessions int
	Reaper      ReaperConfig
}

// Reloadable extracts the hot-reloadable settings.
func (c Config) Reloadable() Reloadable {
	return Reloadable{
		LogLevel:    c.Logging.Level,
		MaxSessions: c.Server.MaxSessions,
		Reaper:      c.Reaper,
	}
}
