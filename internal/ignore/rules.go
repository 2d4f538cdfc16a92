package ignore

import (
	"path/filepath"
	"sort"
	"strings"
)

// Rules scopes each root's ignore file to paths under that root. Paths
// outside every root see only the base patterns. LoadRoot is meant for
// setup; matching is safe for concurrent use once loading is done.
type Rules struct {
	base  *Matcher
	roots []scoped
}

type scoped struct {
	root string
	m    *Matcher
}

// NewRules builds Rules on base. A nil base uses DefaultPatterns.
func NewRules(base *Matcher) *Rules {
	if base == nil {
		base = NewMatcher(DefaultPatterns)
	}
	return &Rules{base: base}
}

// LoadRoot registers root with the base patterns plus root/<ignoreFile>.
// The root is registered with the base patterns even when reading fails.
func (r *Rules) LoadRoot(root, ignoreFile string) error {
	root = filepath.Clean(root)
	m, err := r.base.LoadRoot(root, ignoreFile)
	if err != nil {
		m = r.base
	}
	r.roots = append(r.roots, scoped{root: root, m: m})
	// Longest root first so nested roots win.
	sort.SliceStable(r.roots, func(i, j int) bool { return len(r.roots[i].root) > len(r.roots[j].root) })
	return err
}

// For returns the matcher for the innermost root containing path, and the
// path relative to that root. Outside every root it returns the base
// matcher and path unchanged.
func (r *Rules) For(path string) (*Matcher, string) {
	path = filepath.Clean(path)
	for _, s := range r.roots {
		if rel, ok := within(s.root, path); ok {
			return s.m, rel
		}
	}
	return r.base, path
}

// Match reports whether a file path is ignored. Directory patterns only
// apply to directories below the owning root.
func (r *Rules) Match(path string) bool {
	m, rel := r.For(path)
	return m.Match(rel)
}

// MatchDir reports whether the directory at path is ignored by the rules
// of the root that contains it.
func (r *Rules) MatchDir(path string) bool {
	m, rel := r.For(path)
	if rel == "." {
		return false
	}
	return m.MatchDir(filepath.Base(rel))
}

func within(root, path string) (string, bool) {
	if path == root {
		return ".", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}
