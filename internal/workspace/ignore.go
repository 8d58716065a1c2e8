package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/turtacn/Fopwatch/pkg/consts"
)

// Matcher decides whether a path below a workspace root is excluded from
// scanning and watching.
type Matcher struct {
	root  string
	rules *ignore.GitIgnore
}

// LoadMatcher compiles <root>/.gitignore and <root>/.fopwatch/ignore. Missing
// files are fine; hidden entries are always excluded regardless of rules.
func LoadMatcher(root string) *Matcher {
	var lines []string
	for _, f := range []string{
		filepath.Join(root, ".gitignore"),
		filepath.Join(root, consts.WorkspaceMetaDir, "ignore"),
	} {
		if l, err := readLines(f); err == nil {
			lines = append(lines, l...)
		}
	}
	m := &Matcher{root: root}
	if len(lines) > 0 {
		m.rules = ignore.CompileIgnoreLines(lines...)
	}
	return m
}

// Ignored reports whether path (absolute or relative to the root) is excluded.
func (m *Matcher) Ignored(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(m.root, path)
		if err != nil {
			return false
		}
		rel = r
	}
	if rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return m.rules != nil && m.rules.MatchesPath(rel)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// Personal.AI order the ending
