package action

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mohitkumar/actionrouter/logger"
	"go.uber.org/zap"
)

const defaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads the catalog file when it changes. A file that fails to load
// leaves the previous snapshot in place.
type Watcher struct {
	path     string
	catalog  *Catalog
	onReload func(*Snapshot)
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	wg       *sync.WaitGroup
}

func NewWatcher(path string, catalog *Catalog, onReload func(*Snapshot), wg *sync.WaitGroup) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &Watcher{
		path:     filepath.Clean(path),
		catalog:  catalog,
		onReload: onReload,
		debounce: defaultReloadDebounce,
		stop:     make(chan struct{}),
		wg:       wg,
	}, nil
}

func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// watch the directory, editors replace files by rename
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = fsWatcher.Close()
		return err
	}
	w.watcher = fsWatcher
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case ev, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					w.schedule()
				}
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Error("catalog watcher error", zap.Error(err))
			case <-w.stop:
				logger.Info("stopping catalog watcher", zap.String("path", w.path))
				return
			}
		}
	}()
	logger.Info("catalog watcher started", zap.String("path", w.path))
	return nil
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Reload)
}

// Reload loads the file and swaps the snapshot.
func (w *Watcher) Reload() {
	snap, err := LoadFile(w.path)
	if err != nil {
		logger.Error("catalog reload failed, keeping previous snapshot", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.catalog.Replace(snap)
	logger.Info("catalog reloaded", zap.String("path", w.path), zap.Int("actions", snap.Size()))
	if w.onReload != nil {
		w.onReload(snap)
	}
}

func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
	return nil
}
