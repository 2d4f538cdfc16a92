package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	api "github.com/fyrsmithlabs/contextfs/internal/http"
	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/maps"
	"github.com/fyrsmithlabs/contextfs/internal/service"
)

// stubAPI answers every call from fixed data.
type stubAPI struct {
	results  []index.SearchResult
	admit    ingest.AdmitResult
	admitErr error
	mapErr   error
	deleted  []string
}

func (s *stubAPI) Search(context.Context, string, int) ([]index.SearchResult, error) {
	return s.results, nil
}

func (s *stubAPI) DeleteBySourcePath(_ context.Context, path string) error {
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *stubAPI) GraphForEntity(_ context.Context, name string, _ int) (*index.Graph, error) {
	return &index.Graph{Nodes: []index.Node{{ID: "tag:" + name, Label: name, Type: index.NodeEntity}}}, nil
}

func (s *stubAPI) ManuallyIndex(context.Context, string, string) (ingest.AdmitResult, error) {
	return s.admit, s.admitErr
}

func (s *stubAPI) CreateMap(_ context.Context, name string) (maps.Map, error) {
	return maps.Map{ID: 1, Name: name}, s.mapErr
}

func (s *stubAPI) ListMaps(context.Context) ([]maps.Map, error) {
	return []maps.Map{{ID: 1, Name: "trip"}}, nil
}

func (s *stubAPI) GetMap(_ context.Context, id int64) (*maps.MapData, error) {
	if s.mapErr != nil {
		return nil, s.mapErr
	}
	return &maps.MapData{Map: maps.Map{ID: id, Name: "trip"}}, nil
}

func (s *stubAPI) DeleteMap(context.Context, int64) error {
	return s.mapErr
}

func (s *stubAPI) AddNode(_ context.Context, mapID int64, path string, x, y int) (maps.Node, error) {
	return maps.Node{ID: 2, MapID: mapID, FilePath: path, X: x, Y: y}, s.mapErr
}

func (s *stubAPI) CreateEdge(_ context.Context, mapID, src, dst int64, label string) (maps.Edge, error) {
	return maps.Edge{ID: 3, MapID: mapID, SourceNodeID: src, TargetNodeID: dst, Label: label}, s.mapErr
}

func (s *stubAPI) Status(context.Context) service.Status {
	return service.Status{IndexEntries: 11, IndexProvider: "chromem"}
}

func newRemote(t *testing.T, stub *stubAPI) *Remote {
	t.Helper()
	srv, err := api.NewServer(stub, zap.NewNop(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return NewRemote(New(ts.URL), nil)
}

func TestRemote_SearchRoundTrip(t *testing.T) {
	page := 2
	stub := &stubAPI{results: []index.SearchResult{
		{Identity: "/docs/a.pdf", SourcePath: "/docs/a.pdf", Kind: index.KindPDF, Similarity: 0.912},
		{Identity: "/docs/a.pdf#page=2", SourcePath: "/docs/a.pdf", PageNumber: &page, Kind: index.KindPDFPage, Tags: []string{"invoice"}},
	}}
	r := newRemote(t, stub)

	got, err := r.Search(context.Background(), "invoice", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, index.KindPDF, got[0].Kind)
	assert.Equal(t, 0.91, got[0].Similarity)
	assert.Nil(t, got[0].PageNumber)

	assert.Equal(t, index.KindPDFPage, got[1].Kind)
	assert.Equal(t, "/docs/a.pdf", got[1].SourcePath)
	require.NotNil(t, got[1].PageNumber)
	assert.Equal(t, 2, *got[1].PageNumber)
	assert.Equal(t, []string{"invoice"}, got[1].Tags)
}

func TestRemote_ManuallyIndex(t *testing.T) {
	tests := []struct {
		name       string
		admit      ingest.AdmitResult
		admitErr   error
		wantStatus ingest.AdmitStatus
		wantErr    error
	}{
		{"claimed", ingest.AdmitResult{Status: ingest.Claimed, Kind: ingest.Image}, nil, ingest.Claimed, nil},
		{"in progress", ingest.AdmitResult{Status: ingest.AlreadyClaimed, Kind: ingest.Image}, nil, ingest.AlreadyClaimed, nil},
		{"missing", ingest.AdmitResult{}, service.ErrNotFound, ingest.Rejected, service.ErrNotFound},
		{"unsupported", ingest.AdmitResult{}, service.ErrUnsupported, ingest.Rejected, service.ErrInvalidArgument},
		{"shutting down", ingest.AdmitResult{}, service.ErrUnavailable, ingest.Rejected, service.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRemote(t, &stubAPI{admit: tt.admit, admitErr: tt.admitErr})

			res, err := r.ManuallyIndex(context.Background(), "/inbox/a.png", "")
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, ingest.Image, res.Kind)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRemote_MapErrorsMapToSentinels(t *testing.T) {
	ctx := context.Background()

	r := newRemote(t, &stubAPI{mapErr: service.ErrConflict})
	_, err := r.CreateMap(ctx, "trip")
	assert.ErrorIs(t, err, service.ErrConflict)

	r = newRemote(t, &stubAPI{mapErr: service.ErrNotFound})
	_, err = r.GetMap(ctx, 9)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.ErrorIs(t, r.DeleteMap(ctx, 9), service.ErrNotFound)
	_, err = r.CreateEdge(ctx, 1, 2, 3, "x")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestRemote_MapsAndGraph(t *testing.T) {
	ctx := context.Background()
	stub := &stubAPI{}
	r := newRemote(t, stub)

	list, err := r.ListMaps(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	node, err := r.AddNode(ctx, 1, "/a.png", 4, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, node.X)

	g, err := r.GraphForEntity(ctx, "invoice", 10)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "invoice", g.Nodes[0].Label)

	require.NoError(t, r.DeleteBySourcePath(ctx, "/inbox/a.png"))
	assert.Equal(t, []string{"/inbox/a.png"}, stub.deleted)

	assert.Equal(t, 11, r.Status(ctx).IndexEntries)
}

func TestRemote_Unreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	r := NewRemote(New(url), nil)

	_, err := r.Search(context.Background(), "x", 1)
	assert.ErrorIs(t, err, service.ErrUnavailable)
	assert.Equal(t, -1, r.Status(context.Background()).IndexEntries)
}
