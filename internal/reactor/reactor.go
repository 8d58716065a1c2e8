// Package reactor turns raw filesystem notifications under open workspaces
// into debounced settle events, buffer reloads and automatic generation.
package reactor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/Fopwatch/internal/generation"
	"github.com/turtacn/Fopwatch/internal/monitor"
	"github.com/turtacn/Fopwatch/internal/workspace"
	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/pubsub"
)

type EventKind string

const (
	EventSettled        EventKind = "settled"
	EventBufferReloaded EventKind = "buffer_reloaded"
	EventBufferConflict EventKind = "buffer_conflict" // dirty buffer changed on disk
	EventBufferMissing  EventKind = "buffer_missing"
	EventGenerated      EventKind = "generated"
)

// Event is published for every reactor outcome. Paths is set for settles,
// Path for buffer events, Content for reloads and Result for generation.
type Event struct {
	Kind    EventKind
	Root    string
	Paths   []string
	Path    string
	Content string
	Result  *generation.Result
}

// Sessions supplies the editing state consulted on settle.
type Sessions interface {
	Snapshot(root string) (workspace.Snapshot, bool)
}

// Generator renders the selected document pair.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) generation.Result
}

type Options struct {
	Debounce   time.Duration
	WatchDirs  []string // relative to each root; the whole root when none exist
	OutputDir  string   // relative to the root unless absolute
	Sessions   Sessions
	Generator  Generator
	NewWatcher WatcherFactory
	Logger     logger.Logger
}

// Reactor owns one watcher and one debounce timer per watched workspace.
type Reactor struct {
	opts Options
	log  logger.Logger

	mu      sync.Mutex
	watched map[string]*watchedWorkspace
	closed  bool

	events *pubsub.Hub[Event]
}

func New(opts Options) *Reactor {
	if opts.Debounce <= 0 {
		opts.Debounce = consts.DefaultDebounce
	}
	if opts.NewWatcher == nil {
		opts.NewWatcher = NewFSWatcher
	}
	return &Reactor{
		opts:    opts,
		log:     logger.Or(opts.Logger).With("component", "reactor"),
		watched: make(map[string]*watchedWorkspace),
		events:  pubsub.NewHub[Event](),
	}
}

// Subscribe returns a channel of reactor events.
func (r *Reactor) Subscribe(buffer int) (<-chan Event, func()) {
	return r.events.Subscribe(buffer)
}

// StartWatching begins watching root. A watcher already running for the same
// root is stopped first, together with its pending timer.
func (r *Reactor) StartWatching(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fperrors.New(fperrors.ErrCodeWatchFailed, "StartWatching", "bad root "+root, err)
	}
	root = filepath.Clean(abs)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fperrors.New(fperrors.ErrCodeWatchFailed, "StartWatching", "workspace root is not a directory: "+root, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fperrors.New(fperrors.ErrCodeWatchFailed, "StartWatching", "reactor closed", nil)
	}
	key := workspace.Normalize(root)
	if prev, ok := r.watched[key]; ok {
		delete(r.watched, key)
		prev.stop()
		r.log.Info("Reactor: replaced watcher", "root", root)
	}

	w, err := r.opts.NewWatcher()
	if err != nil {
		return fperrors.New(fperrors.ErrCodeWatchFailed, "StartWatching", "cannot create watcher", err)
	}
	ws := newWatchedWorkspace(r, root, w)
	if err := ws.addAll(); err != nil {
		_ = w.Close()
		return fperrors.New(fperrors.ErrCodeWatchFailed, "StartWatching", "cannot watch "+root, err)
	}
	r.watched[key] = ws
	ws.run()
	r.log.Info("Reactor: watching", "root", root, "dirs", ws.dirs)
	return nil
}

// StopWatching stops the watcher for root, discarding any pending settle.
// It reports whether root was being watched.
func (r *Reactor) StopWatching(root string) bool {
	key := workspace.Normalize(root)
	r.mu.Lock()
	ws, ok := r.watched[key]
	delete(r.watched, key)
	r.mu.Unlock()
	if ok {
		ws.stop()
		r.log.Info("Reactor: stopped watching", "root", ws.root)
	}
	return ok
}

func (r *Reactor) Watching(root string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watched[workspace.Normalize(root)]
	return ok
}

// LastSettled returns the paths of the most recent settle for root, or nil
// when root is not watched or has not settled since watching began.
func (r *Reactor) LastSettled(root string) []string {
	r.mu.Lock()
	ws, ok := r.watched[workspace.Normalize(root)]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return ws.lastSettled()
}

// Roots lists watched roots, sorted.
func (r *Reactor) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.watched))
	for _, ws := range r.watched {
		out = append(out, ws.root)
	}
	sort.Strings(out)
	return out
}

// Close stops every watcher and ends subscriptions.
func (r *Reactor) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.watched
	r.watched = make(map[string]*watchedWorkspace)
	r.mu.Unlock()

	for _, ws := range all {
		ws.stop()
	}
	r.events.Close()
}

// settle runs on the workspace's settler goroutine, one batch at a time.
func (r *Reactor) settle(ctx context.Context, root string, paths []string) {
	monitor.SettleEventsTotal.Inc()
	r.log.Debug("Reactor: settled", "root", root, "paths", paths)
	r.events.Publish(Event{Kind: EventSettled, Root: root, Paths: paths})

	if r.opts.Sessions == nil {
		return
	}
	snap, ok := r.opts.Sessions.Snapshot(root)
	if !ok || snap.Closed {
		return
	}

	regenerate := false
	for _, p := range paths {
		if snap.Selection.Matches(p) {
			regenerate = true
		}
		buf, open := snap.Buffer(p)
		if !open {
			continue
		}
		if buf.Dirty {
			r.log.Warn("Reactor: file changed under unsaved buffer", "path", p)
			r.events.Publish(Event{Kind: EventBufferConflict, Root: root, Path: buf.Path})
			continue
		}
		data, err := os.ReadFile(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.events.Publish(Event{Kind: EventBufferMissing, Root: root, Path: buf.Path})
		case err != nil:
			r.log.Warn("Reactor: cannot reload buffer", "path", p, "err", err)
		case string(data) != buf.Content:
			r.events.Publish(Event{Kind: EventBufferReloaded, Root: root, Path: buf.Path, Content: string(data)})
		}
	}

	if !regenerate || !snap.AutoGenerate || !snap.Selection.Complete() || r.opts.Generator == nil {
		return
	}
	out := r.outputPath(root)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		r.log.Error("Reactor: cannot create output dir", "dir", filepath.Dir(out), "err", err)
		return
	}
	res := r.opts.Generator.Generate(ctx, generation.Request{
		SourcePath:    snap.Selection.Source,
		TransformPath: snap.Selection.Transform,
		WorkingDir:    filepath.Dir(snap.Selection.Transform),
		OutputPath:    out,
	})
	r.events.Publish(Event{Kind: EventGenerated, Root: root, Path: out, Result: &res})
}

// OutputPath returns where auto-generated output for root is written.
func (r *Reactor) OutputPath(root string) string {
	return r.outputPath(root)
}

func (r *Reactor) outputPath(root string) string {
	dir := r.opts.OutputDir
	switch {
	case dir == "":
		dir = filepath.Join(root, consts.WorkspaceMetaDir)
	case !filepath.IsAbs(dir):
		dir = filepath.Join(root, dir)
	}
	return filepath.Join(dir, consts.OutputFileName)
}

// Personal.AI order the ending
