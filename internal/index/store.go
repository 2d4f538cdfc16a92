// Package index stores analysis records in a vector index and answers
// similarity and tag-graph queries over them.
package index

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
)

// DefaultPageProbe bounds how many page identities Delete probes for a
// multi-page document. Pages beyond it are not removed.
const DefaultPageProbe = 500

var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid index config")

	// ErrInvalidRecord is returned by Add for a record without an identity
	// or an embedding.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptyQuery is returned for blank search text or entity names.
	ErrEmptyQuery = errors.New("empty query")
)

// AddOutcome reports what Add did with a record.
type AddOutcome int

const (
	Added AddOutcome = iota
	SkippedDuplicate
	Failed
)

func (o AddOutcome) String() string {
	switch o {
	case Added:
		return "added"
	case SkippedDuplicate:
		return "skipped_duplicate"
	default:
		return "failed"
	}
}

// Kind describes what an indexed entry was produced from.
type Kind string

const (
	KindImage   Kind = "image"
	KindPDF     Kind = "pdf"
	KindPDFPage Kind = "pdf_page"
)

// SearchResult is one ranked hit.
type SearchResult struct {
	Identity      string   `json:"identity"`
	SourcePath    string   `json:"source_path"`
	PageNumber    *int     `json:"page_number,omitempty"`
	Kind          Kind     `json:"type"`
	Tags          []string `json:"tags"`
	UserNote      string   `json:"user_note,omitempty"`
	ExtractedText string   `json:"extracted_text,omitempty"`
	Similarity    float64  `json:"similarity"`
}

// NodeType distinguishes graph roots from files.
type NodeType string

const (
	NodeEntity NodeType = "entity"
	NodeFile   NodeType = "file"
)

// MentionsLabel labels every entity-to-file edge.
const MentionsLabel = "mentions"

// Node is a graph vertex.
type Node struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Type       NodeType `json:"type"`
	SourcePath string   `json:"source_path,omitempty"`
	PageNumber *int     `json:"page_number,omitempty"`
}

// Edge is a directed graph edge.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Graph is the result of a tag-graph query.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Store is the indexed-entry store. Implementations are safe for concurrent use.
type Store interface {
	// Add inserts rec unless an entry with the same identity already exists.
	Add(ctx context.Context, rec analysis.Record) (AddOutcome, error)

	// Has reports whether an entry with identity is stored.
	Has(ctx context.Context, identity string) (bool, error)

	// Search ranks entries by similarity to text, most similar first.
	Search(ctx context.Context, text string, limit int) ([]SearchResult, error)

	// Delete removes sourcePath and, for documents, its page entries.
	// Missing entries are not an error.
	Delete(ctx context.Context, sourcePath string) error

	// GraphQuery returns the entity node plus up to limit files tagged with it.
	GraphQuery(ctx context.Context, entity string, limit int) (*Graph, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Similarity converts a backend distance into [0, 1].
func Similarity(distance float64) float64 {
	return math.Max(0, 1-distance)
}

// IsDocument reports whether path names a multi-page document.
func IsDocument(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// DeleteIdentities lists every identity Delete must remove for sourcePath.
func DeleteIdentities(sourcePath string, probe int) []string {
	ids := []string{sourcePath}
	if !IsDocument(sourcePath) {
		return ids
	}
	if probe <= 0 {
		probe = DefaultPageProbe
	}
	for n := 1; n <= probe; n++ {
		ids = append(ids, analysis.PageIdentity(sourcePath, n))
	}
	return ids
}

func kindOf(sourcePath string, page *int) Kind {
	switch {
	case page != nil:
		return KindPDFPage
	case IsDocument(sourcePath):
		return KindPDF
	default:
		return KindImage
	}
}

// sortResults orders results by descending similarity, keeping backend
// order for ties, and trims to limit.
func sortResults(results []SearchResult, limit int) []SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// buildGraph joins the entity root to each hit with a mentions edge.
func buildGraph(entity string, hits []SearchResult, limit int) *Graph {
	g := &Graph{
		Nodes: []Node{{ID: entity, Label: entity, Type: NodeEntity}},
		Edges: []Edge{},
	}
	for i, h := range hits {
		if i >= limit {
			break
		}
		g.Nodes = append(g.Nodes, Node{
			ID:         h.Identity,
			Label:      fileLabel(h),
			Type:       NodeFile,
			SourcePath: h.SourcePath,
			PageNumber: h.PageNumber,
		})
		g.Edges = append(g.Edges, Edge{From: entity, To: h.Identity, Label: MentionsLabel})
	}
	return g
}

func fileLabel(h SearchResult) string {
	base := filepath.Base(h.SourcePath)
	if h.PageNumber != nil {
		return base + " (page " + strconv.Itoa(*h.PageNumber) + ")"
	}
	return base
}

// Metadata keys shared by both backends.
const (
	keySourcePath    = "source_path"
	keyPageID        = "page_id"
	keyPageNumber    = "page_number"
	keyExtractedText = "extracted_text"
	keyTags          = "tags"
	keyUserNote      = "user_note"
	keyIdentity      = "identity"
	tagKeyPrefix     = "tag:"
)

// recordMetadata flattens rec into string metadata. Each tag also gets its
// own key so exact tag filters work on scalar-only backends.
func recordMetadata(rec analysis.Record) map[string]string {
	tags := analysis.NormalizeTags(rec.Tags)
	md := map[string]string{
		keyIdentity:      rec.Identity,
		keySourcePath:    rec.SourcePath,
		keyExtractedText: rec.ExtractedText,
		keyTags:          analysis.JoinTags(tags),
		keyUserNote:      rec.UserNote,
	}
	if rec.PageNumber != nil {
		md[keyPageNumber] = strconv.Itoa(*rec.PageNumber)
		md[keyPageID] = rec.Identity
	}
	for _, t := range tags {
		md[tagKeyPrefix+t] = "1"
	}
	return md
}

// resultFromMetadata is the inverse of recordMetadata.
func resultFromMetadata(id string, md map[string]string, similarity float64) SearchResult {
	r := SearchResult{
		Identity:      id,
		SourcePath:    md[keySourcePath],
		Tags:          analysis.SplitTags(md[keyTags]),
		UserNote:      md[keyUserNote],
		ExtractedText: md[keyExtractedText],
		Similarity:    similarity,
	}
	if r.SourcePath == "" {
		r.SourcePath = id
	}
	if v, ok := md[keyPageNumber]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			r.PageNumber = &n
		}
	}
	r.Kind = kindOf(r.SourcePath, r.PageNumber)
	return r
}
