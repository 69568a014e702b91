package loader

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// watchedPattern matches, relative to the root, the files whose change
// triggers a rescan.
const watchedPattern = "*/{" + DescriptorFile + "," + PagesFile + "," + ContributionFile + "}"

// Watcher re-runs discovery when module files change. Only declarative files
// are re-read; nothing compiled is reloaded.
type Watcher struct {
	loader   *Loader
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(map[string]Result)
	logger   *slog.Logger
}

// NewWatcher creates a watcher over the loader's root. onChange is called
// with the fresh catalogue after every debounced rescan.
func NewWatcher(l *Loader, debounce time.Duration, onChange func(map[string]Result)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		loader:   l,
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		logger:   l.logger,
	}, nil
}

// Start adds watches for the root and every module directory and processes
// events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.loader.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.loader.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addDir(filepath.Join(w.loader.root, e.Name()))
		}
	}

	go w.run(ctx)

	w.logger.Info("module watcher started", "root", w.loader.root, "debounce", w.debounce)
	return nil
}

// Stop releases the underlying watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

func (w *Watcher) addDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch module directory", "dir", dir, "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(w.loader.root) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addDir(ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.relevant(ev.Name) {
				continue
			}
			pending = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("module watcher error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			catalog := w.loader.Discover()
			if w.onChange != nil {
				w.onChange(catalog)
			}
		}
	}
}

// relevant reports whether a change to name can alter the catalogue: a
// module directory itself, or one of its declarative files.
func (w *Watcher) relevant(name string) bool {
	rel, err := filepath.Rel(w.loader.root, name)
	if err != nil {
		return false
	}
	if filepath.Dir(rel) == "." {
		return true
	}
	ok, err := doublestar.PathMatch(filepath.FromSlash(watchedPattern), rel)
	return err == nil && ok
}
