package preset

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/volren/internal/vlog"
)

// Watch reloads the presets file whenever it is written or replaced and
// passes the new set to fn. Reload errors are logged and the previous set
// stays in effect. Watching stops when ctx is done.
//
// The parent directory is watched so editors that save by renaming a
// temporary file are picked up too.
func Watch(ctx context.Context, path string, fn func(*Set)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("preset: watch: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("preset: watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("preset: watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				set, err := LoadFile(abs)
				if err != nil {
					vlog.Logger().Warn("preset: reload failed", "path", abs, "err", err)
					continue
				}
				vlog.Logger().Info("preset: reloaded", "path", abs, "count", set.Len())
				fn(set)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				vlog.Logger().Warn("preset: watch error", "path", abs, "err", err)
			}
		}
	}()
	return nil
}
