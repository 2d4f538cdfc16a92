package maps

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "maps.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "maps.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.CreateMap(context.Background(), "taxes")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	var versions int
	require.NoError(t, reopened.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)

	list, err := reopened.ListMaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Map{{ID: 1, Name: "taxes"}}, list)
}

func TestStore_CreateMap_Duplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateMap(ctx, "receipts")
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.CreateMap(ctx, "receipts")
	assert.ErrorIs(t, err, ErrMapExists)
}

func TestStore_CreateMap_ConcurrentSameName(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateMap(context.Background(), "shared")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestStore_ListMapsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.ListMaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, name := range []string{"b", "a", "c"} {
		_, err := s.CreateMap(ctx, name)
		require.NoError(t, err)
	}
	list, err := s.ListMaps(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b", list[0].Name)
	assert.Equal(t, "c", list[2].Name)
}

func TestStore_GetMapData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mapID, err := s.CreateMap(ctx, "project")
	require.NoError(t, err)
	n1, err := s.AddNode(ctx, mapID, "/in/a.png", 10, 20)
	require.NoError(t, err)
	n2, err := s.AddNode(ctx, mapID, "/in/b.pdf", -5, 0)
	require.NoError(t, err)
	edgeID, err := s.CreateEdge(ctx, mapID, n1, n2, "references")
	require.NoError(t, err)

	data, err := s.GetMapData(ctx, mapID)
	require.NoError(t, err)
	assert.Equal(t, Map{ID: mapID, Name: "project"}, data.Map)
	assert.Equal(t, []Node{
		{ID: n1, MapID: mapID, FilePath: "/in/a.png", X: 10, Y: 20},
		{ID: n2, MapID: mapID, FilePath: "/in/b.pdf", X: -5, Y: 0},
	}, data.Nodes)
	assert.Equal(t, []Edge{
		{ID: edgeID, MapID: mapID, SourceNodeID: n1, TargetNodeID: n2, Label: "references"},
	}, data.Edges)

	_, err = s.GetMapData(ctx, 999)
	assert.ErrorIs(t, err, ErrMapNotFound)
}

func TestStore_DeleteMapCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keep, err := s.CreateMap(ctx, "keep")
	require.NoError(t, err)
	keepNode, err := s.AddNode(ctx, keep, "/in/k.png", 0, 0)
	require.NoError(t, err)

	drop, err := s.CreateMap(ctx, "drop")
	require.NoError(t, err)
	a, err := s.AddNode(ctx, drop, "/in/a.png", 0, 0)
	require.NoError(t, err)
	b, err := s.AddNode(ctx, drop, "/in/b.png", 1, 1)
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, drop, a, b, "")
	require.NoError(t, err)

	deleted, err := s.DeleteMap(ctx, drop)
	require.NoError(t, err)
	assert.True(t, deleted)

	var nodes, edges int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&nodes))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&edges))
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 0, edges)

	_, err = s.GetNode(ctx, a)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	got, err := s.GetNode(ctx, keepNode)
	require.NoError(t, err)
	assert.Equal(t, keep, got.MapID)

	deleted, err = s.DeleteMap(ctx, drop)
	require.NoError(t, err)
	assert.False(t, deleted)

	// Names are reusable once deleted.
	_, err = s.CreateMap(ctx, "drop")
	assert.NoError(t, err)
}

func TestStore_AddNodeDoesNotValidateFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mapID, err := s.CreateMap(ctx, "m")
	require.NoError(t, err)
	_, err = s.AddNode(ctx, mapID, "/does/not/exist.png", 0, 0)
	assert.NoError(t, err)
}

func TestStore_GetMap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateMap(ctx, "found")
	require.NoError(t, err)
	m, err := s.GetMap(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "found", m.Name)

	_, err = s.GetMap(ctx, id+1)
	assert.ErrorIs(t, err, ErrMapNotFound)
}
