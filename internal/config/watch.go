package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file's directory for writes and reloads it,
// publishing the new Config on Changes whenever the reload actually differs
// from what it last emitted. Watching the containing directory rather than
// the file directly survives editors that replace the file via rename.
type Watcher struct {
	path string

	mu         sync.Mutex
	fsWatcher  *fsnotify.Watcher
	isWatching bool
}

// NewWatcher creates a Watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, fsWatcher: fsWatcher}, nil
}

// Watch starts watching and returns a channel of successfully reloaded
// configs and a channel of load/parse errors. Both channels close when ctx
// is done or Stop is called. Safe to call at most once.
func (w *Watcher) Watch(ctx context.Context) (<-chan Config, <-chan error) {
	changes := make(chan Config, 1)
	errs := make(chan error, 1)

	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		w.mu.Unlock()
		errs <- err
		close(changes)
		close(errs)
		return changes, errs
	}
	w.isWatching = true
	w.mu.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)

		var last *Config
		for {
			select {
			case event, ok := <-w.fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					errs <- err
					continue
				}
				if last != nil && reflect.DeepEqual(*last, cfg) {
					continue
				}
				last = &cfg
				changes <- cfg
			case err, ok := <-w.fsWatcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, errs
}

// Stop releases the underlying filesystem watch.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.fsWatcher.Close()
}
