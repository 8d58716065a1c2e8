package workspace

import (
	"os"
	"sort"
	"sync"

	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/logger"
)

// Registry tracks open sessions by normalized root.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      logger.Or(log).With("component", "workspace"),
	}
}

// Open returns the session for root, creating it from persisted settings if needed.
// The bool reports whether a new session was created.
func (r *Registry) Open(root string) (*Session, bool, error) {
	key := Normalize(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, false, nil
	}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, false, fperrors.New(fperrors.ErrCodeWorkspaceIO, "Open", "workspace root is not a directory: "+root, err)
	}
	s := NewSession(root)
	st, err := LoadSettings(s.Root())
	if err != nil {
		r.log.Warn("Workspace: ignoring unreadable settings", "root", s.Root(), "err", err)
	} else {
		s.Apply(st)
	}
	r.sessions[key] = s
	r.log.Info("Workspace: opened", "root", s.Root(), "session", s.ID())
	return s, true, nil
}

func (r *Registry) Get(root string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[Normalize(root)]
	return s, ok
}

// Close persists settings for root and closes its session. Closing an unknown root is a no-op.
func (r *Registry) Close(root string) error {
	key := Normalize(root)
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	err := SaveSettings(s.Root(), s.Settings())
	s.Close()
	r.log.Info("Workspace: closed", "root", s.Root(), "session", s.ID())
	return err
}

// Snapshot returns the state of the session open at root.
func (r *Registry) Snapshot(root string) (Snapshot, bool) {
	s, ok := r.Get(root)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Roots lists open workspace roots, sorted.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Root())
	}
	sort.Strings(out)
	return out
}

// Personal.AI order the ending
