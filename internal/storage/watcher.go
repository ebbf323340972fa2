package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called for each record change observed on disk.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind, key string)

// Watch starts an fsnotify watcher on the store's notes directory and
// processes record change events until ctx is cancelled. It calls cb (if
// non-nil) per event and refresh (if non-nil) on a debounce timer after a
// burst of changes.
//
// The watcher exists for mutations made by *other* processes: this
// process's own writes are already reflected in the index by the time their
// events arrive, so the debounced refresh pass is a cheap no-op for them.
func Watch(ctx context.Context, fs *FS, logger *slog.Logger, cb EventCallback, refresh func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(fs.NotesDir()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("dir", fs.NotesDir()))

	// refreshTimer debounces the reconcile pass across event bursts.
	var refreshTimer *time.Timer
	var refreshCh <-chan time.Time

	scheduleRefresh := func() {
		if refresh == nil {
			return
		}
		if refreshTimer == nil {
			refreshTimer = time.NewTimer(200 * time.Millisecond)
			refreshCh = refreshTimer.C
		} else {
			refreshTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if refreshTimer != nil {
				refreshTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-refreshCh:
			refresh()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
				continue // temp files and the meta/lock files
			}
			key := strings.TrimSuffix(name, ".json")

			var kind string
			switch {
			case ev.Op&fsnotify.Create != 0:
				kind = "created"
			case ev.Op&fsnotify.Write != 0:
				kind = "updated"
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				kind = "deleted"
			default:
				continue
			}

			logger.Debug("watcher: record event", slog.String("key", key), slog.String("op", kind))
			if cb != nil {
				cb(kind, key)
			}
			scheduleRefresh()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
