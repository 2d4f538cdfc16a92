// Package analysis turns dropped files into indexable records by calling an
// external caption/OCR/tagging service and an embedding service.
package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Record is one indexable unit: a whole image, or one page of a document.
type Record struct {
	// Identity is the file path for images and "<path>_page_<n>" for pages.
	Identity      string
	SourcePath    string
	PageNumber    *int
	ExtractedText string
	Tags          []string
	UserNote      string
	Vector        []float32
}

// IsPage reports whether the record is a document page.
func (r Record) IsPage() bool {
	return r.PageNumber != nil
}

// Analyzer produces records for files. A nil record or an empty slice
// means the file could not be analyzed; the error says why.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, path, userNote string) (*Record, error)
	AnalyzeDocument(ctx context.Context, path, userNote string) ([]Record, error)
}

const pageMarker = "_page_"

// PageIdentity returns the identity of page n of the document at path.
func PageIdentity(path string, n int) string {
	return fmt.Sprintf("%s%s%d", path, pageMarker, n)
}

// ParsePageIdentity splits "<path>_page_<n>" on the last marker. ok is false
// for identities that are not page identities.
func ParsePageIdentity(identity string) (path string, page int, ok bool) {
	idx := strings.LastIndex(identity, pageMarker)
	if idx <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(identity[idx+len(pageMarker):])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return identity[:idx], n, true
}

// NormalizeTags trims, lowercases, splits on commas and de-duplicates tags,
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		for _, part := range strings.Split(raw, ",") {
			tag := strings.ToLower(strings.TrimSpace(part))
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

// NormalizeTag case-folds a single entity name into a tag token.
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// JoinTags renders tags the way they are persisted.
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}

// SplitTags parses a persisted tag string.
func SplitTags(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return []string{}
	}
	return NormalizeTags([]string{joined})
}
