package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	api "github.com/fyrsmithlabs/contextfs/internal/http"
	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/maps"
	"github.com/fyrsmithlabs/contextfs/internal/service"
)

// Remote implements service.API against a running daemon, so a second
// process (the stdio MCP server) never opens the index itself.
type Remote struct {
	client *Client
	logger *zap.Logger
}

var _ service.API = (*Remote)(nil)

// NewRemote wraps c. A nil logger discards status failures.
func NewRemote(c *Client, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{client: c, logger: logger}
}

func (r *Remote) Search(ctx context.Context, text string, limit int) ([]index.SearchResult, error) {
	hits, err := r.client.Search(ctx, text, limit)
	if err != nil {
		return nil, serviceError(err)
	}
	out := make([]index.SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, fromSearchHit(h))
	}
	return out, nil
}

func (r *Remote) DeleteBySourcePath(ctx context.Context, path string) error {
	return serviceError(r.client.RemoveFile(ctx, path))
}

func (r *Remote) GraphForEntity(ctx context.Context, name string, limit int) (*index.Graph, error) {
	g, err := r.client.Graph(ctx, name, limit)
	return g, serviceError(err)
}

// ManuallyIndex reports AlreadyClaimed for the server's in_progress answer
// and Claimed for any other success.
func (r *Remote) ManuallyIndex(ctx context.Context, path, userNote string) (ingest.AdmitResult, error) {
	kind := ingest.ClassifyPath(path)
	resp, err := r.client.IndexFile(ctx, path, userNote)
	if err != nil {
		return ingest.AdmitResult{Status: ingest.Rejected, Kind: kind}, serviceError(err)
	}
	if resp.Status == "in_progress" {
		return ingest.AdmitResult{Status: ingest.AlreadyClaimed, Kind: kind}, nil
	}
	return ingest.AdmitResult{Status: ingest.Claimed, Kind: kind}, nil
}

func (r *Remote) CreateMap(ctx context.Context, name string) (maps.Map, error) {
	m, err := r.client.CreateMap(ctx, name)
	return m, serviceError(err)
}

func (r *Remote) ListMaps(ctx context.Context) ([]maps.Map, error) {
	list, err := r.client.ListMaps(ctx)
	return list, serviceError(err)
}

func (r *Remote) GetMap(ctx context.Context, id int64) (*maps.MapData, error) {
	data, err := r.client.GetMap(ctx, id)
	return data, serviceError(err)
}

func (r *Remote) DeleteMap(ctx context.Context, id int64) error {
	return serviceError(r.client.DeleteMap(ctx, id))
}

func (r *Remote) AddNode(ctx context.Context, mapID int64, filePath string, x, y int) (maps.Node, error) {
	n, err := r.client.AddNode(ctx, mapID, filePath, x, y)
	return n, serviceError(err)
}

func (r *Remote) CreateEdge(ctx context.Context, mapID, sourceID, targetID int64, label string) (maps.Edge, error) {
	e, err := r.client.CreateEdge(ctx, mapID, sourceID, targetID, label)
	return e, serviceError(err)
}

// Status returns an IndexEntries of -1 when the daemon is unreachable.
func (r *Remote) Status(ctx context.Context) service.Status {
	st, err := r.client.Status(ctx)
	if err != nil {
		r.logger.Warn("daemon status unavailable", zap.String("server", r.client.BaseURL()), zap.Error(err))
		return service.Status{IndexEntries: -1}
	}
	return st
}

func fromSearchHit(h api.SearchHit) index.SearchResult {
	r := index.SearchResult{
		Identity:      h.FilePath,
		SourcePath:    h.FilePath,
		Kind:          index.Kind(h.Type),
		Tags:          h.Tags,
		UserNote:      h.UserCaption,
		ExtractedText: h.ExtractedText,
		Similarity:    h.Similarity,
	}
	if r.Kind == index.KindPDFPage {
		r.SourcePath = h.OriginalPDFPath
		page := h.PageNum
		r.PageNumber = &page
	}
	return r
}

// serviceError maps HTTP failures back onto the service sentinels so
// transports layered on Remote classify them the same way as in-process
// errors. Transport failures become ErrUnavailable.
func serviceError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", service.ErrUnavailable, err)
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", service.ErrInvalidArgument, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", service.ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", service.ErrConflict, apiErr.Message)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", service.ErrUnavailable, apiErr.Message)
	default:
		return err
	}
}
