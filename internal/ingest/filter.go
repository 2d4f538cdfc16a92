package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/contextfs/internal/ignore"
)

// FileKind selects the analysis path for a file.
type FileKind int

const (
	Unsupported FileKind = iota
	Image
	Document
)

func (k FileKind) String() string {
	switch k {
	case Image:
		return "image"
	case Document:
		return "document"
	default:
		return "unsupported"
	}
}

var kindByExt = map[string]FileKind{
	"png":  Image,
	"jpg":  Image,
	"jpeg": Image,
	"pdf":  Document,
}

// ClassifyPath maps a path's extension to its FileKind.
func ClassifyPath(path string) FileKind {
	return kindByExt[extension(path)]
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// RejectReason explains why a path was not admitted.
type RejectReason string

const (
	ReasonNotFound     RejectReason = "not found"
	ReasonNotRegular   RejectReason = "not a regular file"
	ReasonHidden       RejectReason = "hidden file"
	ReasonIgnored      RejectReason = "ignored pattern"
	ReasonUnsupported  RejectReason = "unsupported extension"
	ReasonShuttingDown RejectReason = "shutting down"
)

// Filter applies the admission validity checks.
type Filter struct {
	extensions map[string]struct{}
	ignore     *ignore.Rules
}

// NewFilter builds a Filter. Extensions are matched case-insensitively
// without the leading dot; an empty list allows every supported kind.
// Nil rules fall back to ignore.DefaultPatterns.
func NewFilter(extensions []string, rules *ignore.Rules) *Filter {
	f := &Filter{extensions: make(map[string]struct{}), ignore: rules}
	for _, ext := range extensions {
		f.extensions[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = struct{}{}
	}
	if len(f.extensions) == 0 {
		for ext := range kindByExt {
			f.extensions[ext] = struct{}{}
		}
	}
	if f.ignore == nil {
		f.ignore = ignore.NewRules(nil)
	}
	return f
}

// CheckName applies the checks that need no filesystem access.
func (f *Filter) CheckName(path string) (FileKind, RejectReason) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return Unsupported, ReasonHidden
	}
	if f.ignore.Match(path) {
		return Unsupported, ReasonIgnored
	}
	ext := extension(path)
	if _, ok := f.extensions[ext]; !ok {
		return Unsupported, ReasonUnsupported
	}
	kind := kindByExt[ext]
	if kind == Unsupported {
		return Unsupported, ReasonUnsupported
	}
	return kind, ""
}

// Check applies every admission check, including existence.
func (f *Filter) Check(path string) (FileKind, RejectReason) {
	kind, reason := f.CheckName(path)
	if reason != "" {
		return kind, reason
	}
	info, err := os.Stat(path)
	if err != nil {
		return kind, ReasonNotFound
	}
	if !info.Mode().IsRegular() {
		return kind, ReasonNotRegular
	}
	return kind, ""
}
