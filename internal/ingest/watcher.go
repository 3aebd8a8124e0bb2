package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/dossier/internal/storage"
)

// Event kinds reported to an EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a watcher-driven index change.
type EventCallback func(kind, path string)

const settleDelay = 200 * time.Millisecond

// Watch follows the source directory at root until ctx is cancelled.
// Writes are debounced per path so a file copied in several chunks is ingested
// once. Renames trigger a reconciliation pass.
func (in *Ingester) Watch(ctx context.Context, root string, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	in.logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]string)
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	reconcile := time.NewTimer(settleDelay)
	reconcile.Stop()
	defer settle.Stop()
	defer reconcile.Stop()

	notify := func(kind, rel string) {
		if cb != nil {
			cb(kind, rel)
		}
	}

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("watcher: stopped")
			return nil

		case <-settle.C:
			for rel, kind := range pending {
				if _, err := in.IngestFile(ctx, rel); err != nil {
					in.logger.Warn("watcher: ingest failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				notify(kind, rel)
			}
			clear(pending)

		case <-reconcile.C:
			in.reconcile(ctx, notify)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if err := addDirsRecursive(w, ev.Name); err != nil {
						in.logger.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
					reconcile.Reset(settleDelay)
					continue
				}
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil || !watched(rel) {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if _, seen := pending[rel]; !seen {
					pending[rel] = EventUpdated
				}
				if ev.Op&fsnotify.Create != 0 {
					pending[rel] = EventCreated
				}
				settle.Reset(settleDelay)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, rel)
				if err := in.Remove(ctx, rel); err != nil {
					in.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
				} else {
					notify(EventDeleted, rel)
				}
				// The new name of a renamed file arrives as a separate Create,
				// unless it moved outside a watched directory.
				if ev.Op&fsnotify.Rename != 0 {
					reconcile.Reset(settleDelay)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile removes stored sources whose files are gone and ingests files that
// are missing or stale.
func (in *Ingester) reconcile(ctx context.Context, notify func(kind, path string)) {
	checksums, err := in.db.AllChecksums()
	if err != nil {
		in.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := in.store.List("")
	if err != nil {
		in.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}
	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := in.Remove(ctx, p); err == nil {
			notify(EventDeleted, p)
		}
	}
	for p, cs := range disk {
		old, known := checksums[p]
		if old == cs {
			continue
		}
		if _, err := in.IngestFile(ctx, p); err != nil {
			in.logger.Warn("reconcile: ingest failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if known {
			notify(EventUpdated, p)
		} else {
			notify(EventCreated, p)
		}
	}
}

func watched(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return storage.Supported(rel)
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
