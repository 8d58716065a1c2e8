package workspace

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Normalize returns a cleaned absolute form of p suitable for map keys.
// Paths are case-folded on platforms whose default filesystems are case-insensitive.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.Clean(p)
	if foldCase() {
		p = strings.ToLower(p)
	}
	return p
}

// SamePath reports whether a and b name the same location after normalization.
func SamePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Normalize(a) == Normalize(b)
}

// Within reports whether p lies at or below root.
func Within(root, p string) bool {
	rel, err := filepath.Rel(Normalize(root), Normalize(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func foldCase() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Personal.AI order the ending
