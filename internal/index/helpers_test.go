package index

import (
	"context"
	"math"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
)

// mapEmbedder returns a fixed vector per text and fallback for anything else.
type mapEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
}

func (m *mapEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = m.EmbedQuery(ctx, t)
	}
	return out, nil
}

func (m *mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	if m.fallback != nil {
		return m.fallback, nil
	}
	return []float32{1, 0}, nil
}

// unitAt returns a 2-d unit vector whose cosine with [1, 0] is cos.
func unitAt(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func imageRecord(path string, vec []float32, tags ...string) analysis.Record {
	return analysis.Record{
		Identity:      path,
		SourcePath:    path,
		ExtractedText: "text of " + path,
		Tags:          tags,
		Vector:        vec,
	}
}

func pageRecord(path string, n int, vec []float32, tags ...string) analysis.Record {
	page := n
	return analysis.Record{
		Identity:   analysis.PageIdentity(path, n),
		SourcePath: path,
		PageNumber: &page,
		Tags:       tags,
		Vector:     vec,
	}
}
