package index

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{0.1, 0.9},
		{1, 0},
		{1.7, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Similarity(tt.distance), 1e-9)
	}
}

func TestDeleteIdentities(t *testing.T) {
	assert.Equal(t, []string{"/in/a.png"}, DeleteIdentities("/in/a.png", 3))
	assert.Equal(t, []string{
		"/in/doc.PDF",
		"/in/doc.PDF_page_1",
		"/in/doc.PDF_page_2",
		"/in/doc.PDF_page_3",
	}, DeleteIdentities("/in/doc.PDF", 3))
	assert.Len(t, DeleteIdentities("/in/doc.pdf", 0), DefaultPageProbe+1)
}

func TestSortResults_DistanceOrder(t *testing.T) {
	distances := map[string]float64{"far": 0.9, "near": 0.1, "mid": 0.5}
	var results []SearchResult
	for _, id := range []string{"far", "near", "mid"} {
		results = append(results, SearchResult{Identity: id, Similarity: Similarity(distances[id])})
	}

	got := sortResults(results, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "near", got[0].Identity)
	assert.Equal(t, "mid", got[1].Identity)
	assert.Equal(t, "far", got[2].Identity)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-9)
	assert.InDelta(t, 0.5, got[1].Similarity, 1e-9)
	assert.InDelta(t, 0.1, got[2].Similarity, 1e-9)

	assert.Len(t, sortResults(got, 2), 2)
}

func TestBuildGraph(t *testing.T) {
	page := 2
	hits := []SearchResult{
		{Identity: "/in/a.png", SourcePath: "/in/a.png"},
		{Identity: "/in/r.pdf_page_2", SourcePath: "/in/r.pdf", PageNumber: &page},
		{Identity: "/in/c.png", SourcePath: "/in/c.png"},
	}

	g := buildGraph("Samsung", hits, 2)
	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 2)
	assert.Equal(t, Node{ID: "Samsung", Label: "Samsung", Type: NodeEntity}, g.Nodes[0])
	assert.Equal(t, "a.png", g.Nodes[1].Label)
	assert.Equal(t, "r.pdf (page 2)", g.Nodes[2].Label)
	for _, e := range g.Edges {
		assert.Equal(t, "Samsung", e.From)
		assert.Equal(t, MentionsLabel, e.Label)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	rec := pageRecord("/in/r.pdf", 4, []float32{1}, "Samsung, Q3 2025", "samsung")
	rec.UserNote = "quarterly"

	md := recordMetadata(rec)
	assert.Equal(t, "samsung, q3 2025", md[keyTags])
	assert.Equal(t, "1", md["tag:samsung"])
	assert.Equal(t, "1", md["tag:q3 2025"])
	assert.Equal(t, rec.Identity, md[keyPageID])

	got := resultFromMetadata(rec.Identity, md, 0.5)
	assert.Equal(t, "/in/r.pdf", got.SourcePath)
	assert.Equal(t, KindPDFPage, got.Kind)
	require.NotNil(t, got.PageNumber)
	assert.Equal(t, 4, *got.PageNumber)
	assert.Equal(t, []string{"samsung", "q3 2025"}, got.Tags)
	assert.Equal(t, "quarterly", got.UserNote)
}

func TestAddOutcome_String(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "skipped_duplicate", SkippedDuplicate.String())
	assert.Equal(t, "failed", Failed.String())
}

func TestStore_Has(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"chromem": func(t *testing.T) Store { return newChromem(t, t.TempDir(), nil) },
		"qdrant":  func(t *testing.T) Store { return newQdrant(t, newFakeQdrant(), nil) },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, err := s.Add(ctx, imageRecord("/in/photo.jpg", []float32{1, 0}))
			require.NoError(t, err)
			_, err = s.Add(ctx, pageRecord("/in/doc.pdf", 1, []float32{0, 1}))
			require.NoError(t, err)

			tests := []struct {
				identity string
				want     bool
			}{
				{"/in/photo.jpg", true},
				{analysis.PageIdentity("/in/doc.pdf", 1), true},
				{analysis.PageIdentity("/in/doc.pdf", 2), false},
				{"/in/other.jpg", false},
			}
			for _, tt := range tests {
				got, err := s.Has(ctx, tt.identity)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got, tt.identity)
			}

			_, err = s.Has(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidRecord)

			require.NoError(t, s.Delete(ctx, "/in/photo.jpg"))
			got, err := s.Has(ctx, "/in/photo.jpg")
			require.NoError(t, err)
			assert.False(t, got)
		})
	}
}
