package reactor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/turtacn/Fopwatch/internal/workspace"
)

// watchedWorkspace is the watcher, debounce state and settler for one root.
type watchedWorkspace struct {
	r       *Reactor
	root    string
	dirs    []string
	w       Watcher
	matcher *workspace.Matcher

	settles chan []string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once

	mu   sync.Mutex
	last []string // most recently settled batch
}

func newWatchedWorkspace(r *Reactor, root string, w Watcher) *watchedWorkspace {
	ctx, cancel := context.WithCancel(context.Background())
	return &watchedWorkspace{
		r:       r,
		root:    root,
		w:       w,
		matcher: workspace.LoadMatcher(root),
		settles: make(chan []string, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// addAll registers every configured subdirectory tree with the watcher.
func (ws *watchedWorkspace) addAll() error {
	for _, d := range ws.r.opts.WatchDirs {
		p := filepath.Join(ws.root, d)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			ws.dirs = append(ws.dirs, p)
		}
	}
	if len(ws.dirs) == 0 {
		ws.dirs = []string{ws.root}
	}
	for _, d := range ws.dirs {
		if err := ws.addTree(d); err != nil {
			return err
		}
	}
	return nil
}

func (ws *watchedWorkspace) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ws.matcher.Ignored(path) {
			return filepath.SkipDir
		}
		return ws.w.Add(path)
	})
}

func (ws *watchedWorkspace) run() {
	ws.wg.Add(2)
	go ws.loop()
	go ws.settler()
}

func (ws *watchedWorkspace) stop() {
	ws.once.Do(func() {
		ws.cancel()
		_ = ws.w.Close()
		ws.wg.Wait()
	})
}

func (ws *watchedWorkspace) relevant(path string) bool {
	if ws.matcher.Ignored(path) {
		return false
	}
	for _, d := range ws.dirs {
		if workspace.Within(d, path) {
			return true
		}
	}
	return false
}

// loop collects raw events into the pending set and fires one settle after
// the debounce interval passes with no further events.
func (ws *watchedWorkspace) loop() {
	defer ws.wg.Done()
	defer close(ws.settles)

	debounce := ws.r.opts.Debounce
	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return

		case ev, ok := <-ws.w.Events():
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || !ws.relevant(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := ws.addTree(ev.Name); err != nil {
						ws.r.log.Warn("Reactor: cannot watch new directory", "dir", ev.Name, "err", err)
					}
					continue
				}
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(debounce)

		case err, ok := <-ws.w.Errors():
			if !ok {
				return
			}
			ws.r.log.Warn("Reactor: watcher error", "root", ws.root, "err", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			select {
			case ws.settles <- paths:
			case <-ws.ctx.Done():
				return
			}
		}
	}
}

func (ws *watchedWorkspace) settler() {
	defer ws.wg.Done()
	for paths := range ws.settles {
		if ws.ctx.Err() != nil {
			continue
		}
		ws.mu.Lock()
		ws.last = paths
		ws.mu.Unlock()
		ws.r.settle(ws.ctx, ws.root, paths)
	}
}

func (ws *watchedWorkspace) lastSettled() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]string(nil), ws.last...)
}

// Personal.AI order the ending
