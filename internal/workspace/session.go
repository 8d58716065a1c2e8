// Package workspace holds the editing state of open workspaces: buffers,
// the selected document pair and the auto-generate flag.
package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/pubsub"
)

// ChangeKind names a session mutation.
type ChangeKind string

const (
	ChangeBufferOpened   ChangeKind = "buffer_opened"
	ChangeBufferEdited   ChangeKind = "buffer_edited"
	ChangeBufferSaved    ChangeKind = "buffer_saved"
	ChangeBufferClosed   ChangeKind = "buffer_closed"
	ChangeBufferReloaded ChangeKind = "buffer_reloaded"
	ChangeSelection      ChangeKind = "selection"
	ChangeAutoGenerate   ChangeKind = "auto_generate"
	ChangeClosed         ChangeKind = "closed"
)

// Change is published after every session mutation.
type Change struct {
	SessionID string
	Root      string
	Kind      ChangeKind
	Path      string
}

// Buffer is an open document. Dirty means Content differs from what was last
// read from or written to disk.
type Buffer struct {
	Path     string
	Content  string
	Original string
	Dirty    bool
}

// Selection is the document pair rendered on auto-generate.
type Selection struct {
	Source    string
	Transform string
}

// Complete reports whether both halves of the pair are set.
func (s Selection) Complete() bool {
	return s.Source != "" && s.Transform != ""
}

// Matches reports whether path is either half of the pair.
func (s Selection) Matches(path string) bool {
	return SamePath(s.Source, path) || SamePath(s.Transform, path)
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID           string
	Root         string
	Buffers      []Buffer
	Selection    Selection
	AutoGenerate bool
	Closed       bool
}

// Buffer looks up an open buffer by path.
func (s Snapshot) Buffer(path string) (Buffer, bool) {
	for _, b := range s.Buffers {
		if SamePath(b.Path, path) {
			return b, true
		}
	}
	return Buffer{}, false
}

// Session is the state of one open workspace. All methods are safe for concurrent use.
type Session struct {
	id   string
	root string

	mu           sync.Mutex
	buffers      map[string]*Buffer
	selection    Selection
	autoGenerate bool
	closed       bool

	changes *pubsub.Hub[Change]
}

// NewSession creates an empty session for root.
func NewSession(root string) *Session {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Session{
		id:      uuid.NewString(),
		root:    filepath.Clean(root),
		buffers: make(map[string]*Buffer),
		changes: pubsub.NewHub[Change](),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Root() string { return s.root }

// Changes subscribes to session mutations. The channel closes when the session does.
func (s *Session) Changes(buffer int) (<-chan Change, func()) {
	return s.changes.Subscribe(buffer)
}

// Open reads path into a clean buffer. Opening an already-open path returns it unchanged.
func (s *Session) Open(path string) (Buffer, error) {
	path = s.resolve(path)
	key := Normalize(path)

	s.mu.Lock()
	if b, ok := s.buffers[key]; ok {
		out := *b
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fperrors.New(fperrors.ErrCodeWorkspaceIO, "Open", "cannot read "+path, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Buffer{}, fperrors.New(fperrors.ErrCodeInvalidRequest, "Open", "session closed", nil)
	}
	b, ok := s.buffers[key]
	if !ok {
		b = &Buffer{Path: path, Content: string(data), Original: string(data)}
		s.buffers[key] = b
	}
	out := *b
	s.mu.Unlock()

	if !ok {
		s.emit(ChangeBufferOpened, path)
	}
	return out, nil
}

// Edit replaces the in-memory content of an open buffer.
func (s *Session) Edit(path, content string) error {
	s.mu.Lock()
	b, err := s.bufferLocked(path, "Edit")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	b.Content = content
	b.Dirty = content != b.Original
	p := b.Path
	s.mu.Unlock()

	s.emit(ChangeBufferEdited, p)
	return nil
}

// Save writes an open buffer to disk and marks it clean.
func (s *Session) Save(path string) error {
	s.mu.Lock()
	b, err := s.bufferLocked(path, "Save")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	p, content := b.Path, b.Content
	s.mu.Unlock()

	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fperrors.New(fperrors.ErrCodeWorkspaceIO, "Save", "cannot write "+p, err)
	}

	s.mu.Lock()
	if b, ok := s.buffers[Normalize(p)]; ok {
		b.Original = content
		b.Dirty = b.Content != content
	}
	s.mu.Unlock()

	s.emit(ChangeBufferSaved, p)
	return nil
}

// CloseBuffer discards an open buffer, saved or not.
func (s *Session) CloseBuffer(path string) {
	key := Normalize(s.resolve(path))
	s.mu.Lock()
	b, ok := s.buffers[key]
	if ok {
		delete(s.buffers, key)
	}
	s.mu.Unlock()
	if ok {
		s.emit(ChangeBufferClosed, b.Path)
	}
}

// ApplyReload replaces the content of a clean buffer with fresh disk content.
// Dirty or unknown buffers are left alone and false is returned.
func (s *Session) ApplyReload(path, content string) bool {
	key := Normalize(s.resolve(path))
	s.mu.Lock()
	b, ok := s.buffers[key]
	if !ok || b.Dirty {
		s.mu.Unlock()
		return false
	}
	changed := b.Content != content
	b.Content = content
	b.Original = content
	p := b.Path
	s.mu.Unlock()

	if changed {
		s.emit(ChangeBufferReloaded, p)
	}
	return true
}

// Select sets the document pair. Either half may be empty to clear it.
func (s *Session) Select(source, transform string) {
	sel := Selection{}
	if source != "" {
		sel.Source = s.resolve(source)
	}
	if transform != "" {
		sel.Transform = s.resolve(transform)
	}
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
	s.emit(ChangeSelection, "")
}

func (s *Session) SetAutoGenerate(on bool) {
	s.mu.Lock()
	changed := s.autoGenerate != on
	s.autoGenerate = on
	s.mu.Unlock()
	if changed {
		s.emit(ChangeAutoGenerate, "")
	}
}

// Snapshot copies the current state. Buffers are sorted by path.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.id,
		Root:         s.root,
		Selection:    s.selection,
		AutoGenerate: s.autoGenerate,
		Closed:       s.closed,
		Buffers:      make([]Buffer, 0, len(s.buffers)),
	}
	for _, b := range s.buffers {
		snap.Buffers = append(snap.Buffers, *b)
	}
	sort.Slice(snap.Buffers, func(i, j int) bool { return snap.Buffers[i].Path < snap.Buffers[j].Path })
	return snap
}

// Settings returns the persistable part of the session, relative to the root.
func (s *Session) Settings() Settings {
	snap := s.Snapshot()
	st := Settings{
		SelectedXML:  s.relative(snap.Selection.Source),
		SelectedXSL:  s.relative(snap.Selection.Transform),
		AutoGenerate: snap.AutoGenerate,
	}
	for _, b := range snap.Buffers {
		st.OpenFiles = append(st.OpenFiles, s.relative(b.Path))
	}
	return st
}

// Apply restores persisted settings. Open files that no longer exist are skipped.
func (s *Session) Apply(st Settings) {
	if st.SelectedXML != "" || st.SelectedXSL != "" {
		s.Select(st.SelectedXML, st.SelectedXSL)
	}
	s.SetAutoGenerate(st.AutoGenerate)
	for _, f := range st.OpenFiles {
		_, _ = s.Open(f)
	}
}

// Close marks the session closed and ends change subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.emit(ChangeClosed, "")
	s.changes.Close()
}

func (s *Session) bufferLocked(path, op string) (*Buffer, error) {
	b, ok := s.buffers[Normalize(s.resolve(path))]
	if !ok {
		return nil, fperrors.New(fperrors.ErrCodeInvalidRequest, op, "buffer not open: "+path, nil)
	}
	return b, nil
}

func (s *Session) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.root, path)
}

func (s *Session) relative(path string) string {
	if path == "" {
		return ""
	}
	if rel, err := filepath.Rel(s.root, path); err == nil {
		return rel
	}
	return path
}

func (s *Session) emit(kind ChangeKind, path string) {
	s.changes.Publish(Change{SessionID: s.id, Root: s.root, Kind: kind, Path: path})
}

// Personal.AI order the ending
