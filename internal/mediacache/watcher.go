package mediacache

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher reports resources whose cache files disappear from outside the
// process, for example when a user clears the media directory.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	removed   chan string
	errors    chan error
	done      chan struct{}
}

// NewWatcher watches dir, which must be on the host filesystem.
func NewWatcher(dir string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		removed:   make(chan string, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Removed delivers the id of every resource whose file was removed or
// renamed away.
func (w *Watcher) Removed() <-chan string {
	return w.removed
}

// Errors returns the channel for watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			id, ok := ResourceID(event.Name)
			if !ok {
				continue
			}
			select {
			case w.removed <- id:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}
