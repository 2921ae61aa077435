package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchDir reloads any loaded plugin whose .wasm file changes under dir.
// The plugin ID is assumed to be the file's base name without extension,
// matching how plugins.filters[].path/plugins.transformers[].path are laid
// out in a flat plugin_dir.
func (r *Runtime) WatchDir(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".wasm") {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				id := strings.TrimSuffix(filepath.Base(ev.Name), ".wasm")
				if err := r.Reload(ctx, id); err != nil {
					r.logger.Warn("hot-reload failed", "plugin_id", id, "error", err)
				} else {
					r.logger.Info("hot-reloaded plugin", "plugin_id", id)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("plugin watcher error", "error", err)
			}
		}
	}()

	return nil
}
