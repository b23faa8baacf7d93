package svscan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher watches the scan root and calls a function whenever an entry is
// added, removed or renamed. It only ever shortens the time until the next
// scan; the periodic rescan still catches everything it misses.
type Watcher struct {
	w      *fsnotify.Watcher
	j      Journaler
	dir    string
	notify func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// TryWatch attempts to watch the given directory, but it will log into the
// journaler and return a no-op watcher if, for some reason, it fails to watch
// the directory.
func TryWatch(dir string, j Journaler, notify func()) *Watcher {
	w, err := NewWatcher(dir, j, notify)
	if err != nil {
		j.Write(&EventWarning{
			Component: "watcher",
			Error:     fmt.Sprintf("not watching dir because: %v", err),
		})
		return &Watcher{j: j, dir: dir, notify: notify}
	}
	return w
}

// NewWatcher watches the given directory until Close is called.
func NewWatcher(dir string, j Journaler, notify func()) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "failed to watch dir")
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		w:      watcher,
		j:      j,
		dir:    dir,
		notify: notify,
		cancel: cancel,
	}

	w.wg.Add(1)
	go w.watch(ctx)

	return w, nil
}

// Close stops watching and waits for the background routine to exit.
func (w *Watcher) Close() {
	if w.w == nil {
		return
	}

	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.wg.Done()
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.j.Write(&EventWarning{
				Component: "watcher",
				Error:     "inotify error: " + err.Error(),
			})

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}
			if isServiceListChange(evt) {
				w.notify()
			}
		}
	}
}

// isServiceListChange returns true if the event may have changed the set of
// service directories. Writes and attribute changes never do.
func isServiceListChange(evt fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(evt.Name), ".") {
		return false
	}
	return evt.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
