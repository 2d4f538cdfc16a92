package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/contextfs/internal/ignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPath(t *testing.T) {
	tests := map[string]FileKind{
		"/in/a.png":     Image,
		"/in/a.JPG":     Image,
		"/in/a.jpeg":    Image,
		"/in/report.pdf": Document,
		"/in/notes.txt": Unsupported,
		"/in/noext":     Unsupported,
	}
	for path, want := range tests {
		assert.Equal(t, want, ClassifyPath(path), path)
	}
}

func TestFilter_Check(t *testing.T) {
	dir := t.TempDir()
	rules := ignore.NewRules(ignore.NewMatcher([]string{".tmp", ".crdownload", ".part", "drafts/"}))
	f := NewFilter([]string{"png", ".JPG", "pdf"}, rules)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "drafts"), 0o700))

	tests := []struct {
		name   string
		path   string
		kind   FileKind
		reason RejectReason
	}{
		{"image", touch(t, dir, "photo.png"), Image, ""},
		{"uppercase ext", touch(t, dir, "IMG_1.JPG"), Image, ""},
		{"document", touch(t, dir, "scan.pdf"), Document, ""},
		{"hidden", touch(t, dir, ".secret.png"), Unsupported, ReasonHidden},
		{"partial download", touch(t, dir, "big.pdf.crdownload"), Unsupported, ReasonIgnored},
		{"tmp", touch(t, dir, "a.tmp"), Unsupported, ReasonIgnored},
		{"ignored dir", touch(t, filepath.Join(dir, "drafts"), "d.png"), Unsupported, ReasonIgnored},
		{"unsupported", touch(t, dir, "notes.txt"), Unsupported, ReasonUnsupported},
		{"configured out", touch(t, dir, "photo.jpeg"), Unsupported, ReasonUnsupported},
		{"missing", filepath.Join(dir, "gone.png"), Image, ReasonNotFound},
		{"directory", filepath.Join(dir, "folder.png"), Image, ReasonNotRegular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, reason := f.Check(tt.path)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestNewFilter_DefaultExtensions(t *testing.T) {
	f := NewFilter(nil, nil)
	for _, name := range []string{"a.png", "a.jpg", "a.jpeg", "a.pdf"} {
		_, reason := f.CheckName(name)
		assert.Empty(t, reason, name)
	}
	_, reason := f.CheckName("a.gif")
	assert.Equal(t, ReasonUnsupported, reason)
}

func TestNewFilter_NilRulesIgnoresPartialFiles(t *testing.T) {
	f := NewFilter(nil, nil)

	tests := []struct {
		name   string
		reason RejectReason
	}{
		{"x.pdf.crdownload", ReasonIgnored},
		{"x.png.part", ReasonIgnored},
		{"upload.tmp", ReasonIgnored},
		{"x.pdf", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason := f.CheckName("/in/" + tt.name)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestFilter_IgnoreFileScopedToRoot(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootA, ".contextignore"), []byte("*.bak.png\nprivate/\n"), 0o600))

	rules := ignore.NewRules(nil)
	require.NoError(t, rules.LoadRoot(rootA, ".contextignore"))
	require.NoError(t, rules.LoadRoot(rootB, ".contextignore"))
	f := NewFilter(nil, rules)

	tests := []struct {
		name   string
		path   string
		reason RejectReason
	}{
		{"pattern in own root", filepath.Join(rootA, "old.bak.png"), ReasonIgnored},
		{"dir pattern in own root", filepath.Join(rootA, "private", "a.png"), ReasonIgnored},
		{"pattern from other root", filepath.Join(rootB, "old.bak.png"), ""},
		{"dir from other root", filepath.Join(rootB, "private", "a.png"), ""},
		{"defaults everywhere", filepath.Join(rootB, "a.png.part"), ReasonIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason := f.CheckName(tt.path)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
