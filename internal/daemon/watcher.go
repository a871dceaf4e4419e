package daemon

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow is how long the watcher waits after the last event
// before emitting a batch. Editor saves and git checkouts produce event
// storms; one coalesced batch per burst keeps reindexing cheap.
const debounceWindow = 250 * time.Millisecond

var watchSkipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".loupe":       true,
}

// watcher turns raw fsnotify events into debounced batches of paths
// relative to the repository root. New directories are added to the
// watch set as they appear; fsnotify does not recurse on its own.
type watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	log     *slog.Logger
	batches chan []string
}

func newWatcher(root string, log *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		root:    root,
		fsw:     fsw,
		log:     log,
		batches: make(chan []string, 8),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Batches returns the debounced output channel. It closes when run exits.
func (w *watcher) Batches() <-chan []string { return w.batches }

func (w *watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // directory vanished mid-walk
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (strings.HasPrefix(name, ".") || watchSkipDirs[name]) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.batches)
	defer w.fsw.Close()

	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			rel = filepath.ToSlash(rel)
			if skipPath(rel) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						w.log.Warn("watch new directory", "dir", rel, "err", err)
					}
					continue
				}
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) ||
				ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				pending[rel] = true
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounceWindow)
				}
				fire = timer.C
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "err", err)

		case <-fire:
			fire = nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)
			select {
			case w.batches <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

func skipPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") || watchSkipDirs[part] {
			return true
		}
	}
	return false
}
