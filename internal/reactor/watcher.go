package reactor

import (
	"github.com/fsnotify/fsnotify"
)

// Watcher is the raw filesystem notification source for one workspace.
type Watcher interface {
	Add(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

// WatcherFactory creates a fresh Watcher. Each watched workspace owns its own.
type WatcherFactory func() (Watcher, error)

type fsWatcher struct {
	w *fsnotify.Watcher
}

// NewFSWatcher returns a Watcher backed by the operating system's notification API.
func NewFSWatcher() (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsWatcher{w: w}, nil
}

func (f *fsWatcher) Add(path string) error          { return f.w.Add(path) }
func (f *fsWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsWatcher) Errors() <-chan error          { return f.w.Errors }
func (f *fsWatcher) Close() error                  { return f.w.Close() }

// Personal.AI order the ending
