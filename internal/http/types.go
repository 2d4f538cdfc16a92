package http

import (
	"math"

	"github.com/fyrsmithlabs/contextfs/internal/index"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SearchHit is one entry of the GET /api/v1/search response.
type SearchHit struct {
	FilePath        string   `json:"file_path"`
	Type            string   `json:"type"`
	Tags            []string `json:"tags"`
	UserCaption     string   `json:"user_caption"`
	Similarity      float64  `json:"similarity"`
	ExtractedText   string   `json:"extracted_text,omitempty"`
	OriginalPDFPath string   `json:"original_pdf_path,omitempty"`
	PageNum         int      `json:"page_num,omitempty"`
}

// IndexFileRequest is the request body for POST /api/v1/index-file.
type IndexFileRequest struct {
	FilePath    string `json:"file_path"`
	UserCaption string `json:"user_caption"`
}

// DeleteFileRequest is the request body for DELETE /api/v1/indexed-file.
type DeleteFileRequest struct {
	FilePath string `json:"file_path"`
}

// CreateMapRequest is the request body for POST /api/v1/maps.
type CreateMapRequest struct {
	Name string `json:"name"`
}

// AddNodeRequest is the request body for POST /api/v1/maps/:id/nodes.
type AddNodeRequest struct {
	FilePath string `json:"file_path"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// CreateEdgeRequest is the request body for POST /api/v1/maps/:id/edges.
type CreateEdgeRequest struct {
	SourceID int64  `json:"source_id"`
	TargetID int64  `json:"target_id"`
	Label    string `json:"label"`
}

// NewSearchHit converts an index result to its wire form. Similarity is
// rounded to two decimals.
func NewSearchHit(r index.SearchResult) SearchHit {
	hit := SearchHit{
		FilePath:      r.Identity,
		Type:          string(r.Kind),
		Tags:          r.Tags,
		UserCaption:   r.UserNote,
		Similarity:    math.Round(r.Similarity*100) / 100,
		ExtractedText: r.ExtractedText,
	}
	if hit.Tags == nil {
		hit.Tags = []string{}
	}
	if r.Kind == index.KindPDFPage && r.PageNumber != nil {
		hit.OriginalPDFPath = r.SourcePath
		hit.PageNum = *r.PageNumber
	}
	return hit
}
