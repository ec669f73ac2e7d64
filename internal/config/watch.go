package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the options file whenever it changes, until ctx ends. The
// directory is watched rather than the file so editors that replace the
// file (rename-over) keep working. A snapshot that fails to parse or
// validate is logged and discarded; the last good snapshot stays current.
func (s *Store) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}
	base := filepath.Base(path)
	s.log.Info("watching options file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			opts := Default()
			if err := readFile(path, &opts); err != nil {
				s.log.Warn("options reload failed, keeping previous", "error", err)
				continue
			}
			if err := s.Set(opts); err != nil {
				s.log.Warn("options reload rejected, keeping previous", "error", err)
				continue
			}
			s.log.Info("options reloaded", "path", path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("options watcher error", "error", err)
		}
	}
}
