// Package ignore decides which dropped files are never admitted: in-progress
// downloads, temp files, and anything listed in a root's ignore file.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPatterns covers partial downloads and temp files.
var DefaultPatterns = []string{".tmp", ".crdownload", ".part"}

// Matcher matches file basenames and directory names against ignore patterns.
//
// Pattern forms:
//
//	.tmp         suffix; same as *.tmp
//	*.crdownload glob on the basename (filepath.Match syntax)
//	scratch/     any directory named scratch, and everything below it
//	notes.pdf    exact basename
type Matcher struct {
	files []string
	dirs  []string
}

// NewMatcher builds a Matcher from patterns. Blank lines, comments and
// negations are skipped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	m.add(patterns)
	return m
}

func (m *Matcher) add(patterns []string) {
	for _, raw := range patterns {
		p := parseLine(raw)
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			m.dirs = appendUnique(m.dirs, strings.TrimSuffix(p, "/"))
			continue
		}
		m.files = appendUnique(m.files, toGlobPattern(p))
	}
}

// Extend returns a new Matcher with extra patterns added.
func (m *Matcher) Extend(patterns []string) *Matcher {
	next := &Matcher{
		files: append([]string(nil), m.files...),
		dirs:  append([]string(nil), m.dirs...),
	}
	next.add(patterns)
	return next
}

// LoadRoot reads root/<ignoreFile> and returns m extended with its patterns.
// A missing ignore file returns m unchanged.
func (m *Matcher) LoadRoot(root, ignoreFile string) (*Matcher, error) {
	if ignoreFile == "" {
		return m, nil
	}
	patterns, err := parseFile(filepath.Join(root, ignoreFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	return m.Extend(patterns), nil
}

// Match reports whether path's basename matches a file pattern, or any of
// its parent directory names matches a directory pattern.
func (m *Matcher) Match(path string) bool {
	if m.MatchName(filepath.Base(path)) {
		return true
	}
	if len(m.dirs) == 0 {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if m.MatchDir(part) {
			return true
		}
	}
	return false
}

// MatchName reports whether a basename matches a file pattern.
func (m *Matcher) MatchName(name string) bool {
	for _, pattern := range m.files {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// MatchDir reports whether a directory name matches a directory pattern.
func (m *Matcher) MatchDir(name string) bool {
	if name == "" {
		return false
	}
	for _, pattern := range m.dirs {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if p := parseLine(scanner.Text()); p != "" {
			patterns = append(patterns, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine returns "" for blank lines, comments and negations, which are not supported.
func parseLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return strings.TrimPrefix(line, "/")
}

// toGlobPattern turns a bare suffix like ".part" into "*.part".
func toGlobPattern(pattern string) string {
	if strings.HasPrefix(pattern, ".") && !strings.ContainsAny(pattern[1:], ".*?[") {
		return "*" + pattern
	}
	return pattern
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
