package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/logger"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSession_EditSaveAndDirtyFlag(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "xml", "a.xml"), "<a/>")
	s := NewSession(root)

	b, err := s.Open("xml/a.xml")
	require.NoError(t, err)
	assert.Equal(t, "<a/>", b.Content)
	assert.False(t, b.Dirty)

	require.NoError(t, s.Edit(p, "<a>1</a>"))
	snap := s.Snapshot()
	got, ok := snap.Buffer(p)
	require.True(t, ok)
	assert.True(t, got.Dirty)

	require.NoError(t, s.Edit(p, "<a/>"))
	got, _ = s.Snapshot().Buffer(p)
	assert.False(t, got.Dirty, "reverting to disk content clears dirty")

	require.NoError(t, s.Edit(p, "<a>2</a>"))
	require.NoError(t, s.Save(p))
	got, _ = s.Snapshot().Buffer(p)
	assert.False(t, got.Dirty)
	data, _ := os.ReadFile(p)
	assert.Equal(t, "<a>2</a>", string(data))

	err = s.Edit(filepath.Join(root, "other.xml"), "x")
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeInvalidRequest))
}

func TestSession_ApplyReloadOnlyTouchesCleanBuffers(t *testing.T) {
	root := t.TempDir()
	clean := writeFile(t, filepath.Join(root, "clean.xml"), "old")
	dirty := writeFile(t, filepath.Join(root, "dirty.xml"), "old")
	s := NewSession(root)
	_, err := s.Open(clean)
	require.NoError(t, err)
	_, err = s.Open(dirty)
	require.NoError(t, err)
	require.NoError(t, s.Edit(dirty, "unsaved"))

	assert.True(t, s.ApplyReload(clean, "new"))
	assert.False(t, s.ApplyReload(dirty, "new"))
	assert.False(t, s.ApplyReload(filepath.Join(root, "unknown.xml"), "new"))

	snap := s.Snapshot()
	b, _ := snap.Buffer(clean)
	assert.Equal(t, "new", b.Content)
	assert.False(t, b.Dirty)
	b, _ = snap.Buffer(dirty)
	assert.Equal(t, "unsaved", b.Content)
}

func TestSession_ChangesArePublished(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "a.xml"), "x")
	s := NewSession(root)
	ch, cancel := s.Changes(16)
	defer cancel()

	_, err := s.Open(p)
	require.NoError(t, err)
	s.SetAutoGenerate(true)
	s.SetAutoGenerate(true)
	s.CloseBuffer(p)
	s.Close()

	var kinds []ChangeKind
	for c := range ch {
		assert.Equal(t, s.ID(), c.SessionID)
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []ChangeKind{ChangeBufferOpened, ChangeAutoGenerate, ChangeBufferClosed, ChangeClosed}, kinds)
}

func TestSelection_Matches(t *testing.T) {
	root := t.TempDir()
	s := NewSession(root)
	s.Select("xml/a.xml", "xsl/b.xsl")
	sel := s.Snapshot().Selection
	assert.True(t, sel.Complete())
	assert.True(t, sel.Matches(filepath.Join(root, "xml", "a.xml")))
	assert.True(t, sel.Matches(filepath.Join(root, "xsl", ".", "b.xsl")))
	assert.False(t, sel.Matches(filepath.Join(root, "xml", "c.xml")))
	assert.False(t, Selection{Source: "a"}.Complete())
}

func TestRegistry_PersistsSettingsAcrossSessions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "xml", "a.xml"), "<a/>")
	writeFile(t, filepath.Join(root, "xsl", "b.xsl"), "<b/>")
	reg := NewRegistry(logger.Nop())

	s, created, err := reg.Open(root)
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := reg.Open(filepath.Join(root, "xml", ".."))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)

	s.Select("xml/a.xml", "xsl/b.xsl")
	s.SetAutoGenerate(true)
	_, err = s.Open("xsl/b.xsl")
	require.NoError(t, err)
	require.NoError(t, reg.Close(root))
	assert.Empty(t, reg.Roots())

	st, err := LoadSettings(root)
	require.NoError(t, err)
	assert.Equal(t, Settings{
		SelectedXML:  filepath.Join("xml", "a.xml"),
		SelectedXSL:  filepath.Join("xsl", "b.xsl"),
		AutoGenerate: true,
		OpenFiles:    []string{filepath.Join("xsl", "b.xsl")},
	}, st)

	s2, _, err := reg.Open(root)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), s2.ID())
	snap, ok := reg.Snapshot(root)
	require.True(t, ok)
	assert.True(t, snap.AutoGenerate)
	assert.True(t, snap.Selection.Matches(filepath.Join(root, "xml", "a.xml")))
	_, open := snap.Buffer(filepath.Join(root, "xsl", "b.xsl"))
	assert.True(t, open)
}

func TestRegistry_RejectsMissingRoot(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	_, _, err := reg.Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeWorkspaceIO))
	_, ok := reg.Snapshot("missing")
	assert.False(t, ok)
	assert.NoError(t, reg.Close("missing"))
}

func TestLoadSettings_Malformed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, SettingsPath(root), "auto_generate: [oops")
	_, err := LoadSettings(root)
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeWorkspaceIO))

	st, err := LoadSettings(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Settings{}, st)
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "xml", "b.xml"), "")
	writeFile(t, filepath.Join(root, "xml", "a.XML"), "")
	writeFile(t, filepath.Join(root, "xsl", "t.xslt"), "")
	writeFile(t, filepath.Join(root, "xsl", "s.xsl"), "")
	writeFile(t, filepath.Join(root, ".fopwatch", "hidden.xml"), "")
	writeFile(t, filepath.Join(root, "build", "gen.xml"), "")
	writeFile(t, filepath.Join(root, "notes.txt"), "")
	writeFile(t, filepath.Join(root, ".gitignore"), "build/\n")

	files, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("xml", "a.XML"), filepath.Join("xml", "b.xml")}, files.XML)
	assert.Equal(t, []string{filepath.Join("xsl", "s.xsl"), filepath.Join("xsl", "t.xslt")}, files.XSL)

	_, err = Scan(filepath.Join(root, "missing"))
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeWorkspaceIO))
}

func TestScan_RelativeRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, ".proj", "ws")
	writeFile(t, filepath.Join(root, "doc.xml"), "")
	writeFile(t, filepath.Join(root, "out", "gen.xml"), "")
	writeFile(t, filepath.Join(root, ".gitignore"), "/out\n")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(parent))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	files, err := Scan(filepath.Join(".proj", "ws"))
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.xml"}, files.XML, "anchored rules apply and the root's own segments are not hidden")

	abs, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, files, abs)
}

func TestMatcher(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "*.tmp\nout/\n")
	m := LoadMatcher(root)

	assert.True(t, m.Ignored(filepath.Join(root, "a.tmp")))
	assert.True(t, m.Ignored(filepath.Join(root, "out", "x.xml")))
	assert.True(t, m.Ignored(filepath.Join(root, ".git", "HEAD")))
	assert.False(t, m.Ignored(filepath.Join(root, "xml", "a.xml")))
	assert.False(t, m.Ignored(root))
}

func TestPaths(t *testing.T) {
	root := t.TempDir()
	assert.True(t, SamePath(root, filepath.Join(root, "x", "..")))
	assert.False(t, SamePath("", ""))
	assert.True(t, Within(root, filepath.Join(root, "a", "b.xml")))
	assert.True(t, Within(root, root))
	assert.False(t, Within(filepath.Join(root, "a"), filepath.Join(root, "ab")))
	assert.Equal(t, "", Normalize(""))
}

func TestSession_OpenAfterCloseFails(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "a.xml"), "x")
	s := NewSession(root)
	s.Close()
	_, err := s.Open(p)
	assert.Error(t, err)
	assert.True(t, s.Snapshot().Closed)
	// Close is idempotent.
	done := make(chan struct{})
	go func() { s.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Close blocked")
	}
}
