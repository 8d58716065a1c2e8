package workspace

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
)

// Files lists the documents found under a workspace root, relative to it.
type Files struct {
	XML []string `json:"xml"`
	XSL []string `json:"xsl"`
}

// Kind classifies a path by extension: "xml", "xsl" or "".
func Kind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return "xml"
	case ".xsl", ".xslt":
		return "xsl"
	}
	return ""
}

// Scan walks root and collects source and stylesheet documents. Hidden and
// ignored entries are skipped. Results are sorted.
func Scan(root string) (Files, error) {
	var out Files
	abs, err := filepath.Abs(root)
	if err != nil {
		return Files{}, fperrors.New(fperrors.ErrCodeWorkspaceIO, "Scan", "cannot resolve "+root, err)
	}
	root = abs
	m := LoadMatcher(root)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		if m.Ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		switch Kind(path) {
		case "xml":
			out.XML = append(out.XML, rel)
		case "xsl":
			out.XSL = append(out.XSL, rel)
		}
		return nil
	})
	if err != nil {
		return Files{}, fperrors.New(fperrors.ErrCodeWorkspaceIO, "Scan", "cannot scan "+root, err)
	}
	sort.Strings(out.XML)
	sort.Strings(out.XSL)
	return out, nil
}

// Personal.AI order the ending
