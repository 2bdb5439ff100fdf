package i18n

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads locale files in dir whenever they are created or written.
// It loads the directory once before watching and returns when ctx is done.
func (c *Catalog) Watch(ctx context.Context, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := c.LoadDir(dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create locale watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch locale dir: %w", err)
	}
	logger.Info("Locale watcher started", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Locale watcher shutting down", "reason", ctx.Err())
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(evt.Name), ".yaml") {
				continue
			}
			if err := c.LoadFile(evt.Name); err != nil {
				logger.Warn("Locale reload failed", "file", evt.Name, "error", err)
				continue
			}
			logger.Info("Locale reloaded", "file", evt.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Locale watcher error", "error", err)
		}
	}
}
