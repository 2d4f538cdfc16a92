package index

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakePoint struct {
	vector  []float32
	payload map[string]*qdrant.Value
}

// fakeQdrant is an in-memory pointsClient with cosine scoring.
type fakeQdrant struct {
	mu          sync.Mutex
	points      map[string]fakePoint
	collections map[string]bool
	indexed     []string
	failNext    []error
	getCalls    int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: map[string]fakePoint{}, collections: map[string]bool{}}
}

func (f *fakeQdrant) injected() error {
	if len(f.failNext) == 0 {
		return nil
	}
	err := f.failNext[0]
	f.failNext = f.failNext[1:]
	return err
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[name], nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[req.CollectionName] = true
	return nil
}

func (f *fakeQdrant) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, req.FieldName)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected(); err != nil {
		return nil, err
	}
	for _, p := range req.Points {
		f.points[p.Id.GetUuid()] = fakePoint{
			vector:  p.Vectors.GetVector().GetDense().GetData(),
			payload: p.Payload,
		}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if err := f.injected(); err != nil {
		return nil, err
	}
	var out []*qdrant.RetrievedPoint
	for _, id := range req.Ids {
		if p, ok := f.points[id.GetUuid()]; ok {
			out = append(out, &qdrant.RetrievedPoint{Id: id, Payload: p.payload})
		}
	}
	return out, nil
}

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range req.Points.GetPoints().GetIds() {
		delete(f.points, id.GetUuid())
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected(); err != nil {
		return nil, err
	}
	q := req.Query.GetNearest().GetDense().GetData()

	var out []*qdrant.ScoredPoint
	for id, p := range f.points {
		if !matches(p.payload, req.Filter) {
			continue
		}
		out = append(out, &qdrant.ScoredPoint{
			Id:      qdrant.NewIDUUID(id),
			Payload: p.payload,
			Score:   cosine(q, p.vector),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n := int(req.GetLimit()); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}

func (f *fakeQdrant) Close() error { return nil }

func matches(payload map[string]*qdrant.Value, filter *qdrant.Filter) bool {
	for _, cond := range filter.GetMust() {
		field := cond.GetField()
		found := false
		for _, v := range payload[field.GetKey()].GetListValue().GetValues() {
			if v.GetStringValue() == field.GetMatch().GetKeyword() {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func newQdrant(t *testing.T, fake *fakeQdrant, emb *mapEmbedder) *QdrantStore {
	t.Helper()
	if emb == nil {
		emb = &mapEmbedder{}
	}
	s, err := newQdrantStore(context.Background(), fake, QdrantConfig{
		Collection:   "test_files",
		VectorSize:   2,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, emb, nil)
	require.NoError(t, err)
	return s
}

func TestQdrantStore_EnsuresCollection(t *testing.T) {
	fake := newFakeQdrant()
	newQdrant(t, fake, nil)

	assert.True(t, fake.collections["test_files"])
	assert.ElementsMatch(t, []string{payloadTagTokens, keySourcePath}, fake.indexed)
}

func TestQdrantStore_AddIsIdempotent(t *testing.T) {
	s := newQdrant(t, newFakeQdrant(), nil)
	ctx := context.Background()
	rec := imageRecord("/in/photo.jpg", []float32{1, 0}, "invoice")

	out, err := s.Add(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, Added, out)

	out, err = s.Add(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, SkippedDuplicate, out)
	assert.Equal(t, 1, count(t, s))
}

func TestQdrantStore_SearchOrdering(t *testing.T) {
	emb := &mapEmbedder{vectors: map[string][]float32{"invoice": {1, 0}}}
	s := newQdrant(t, newFakeQdrant(), emb)
	ctx := context.Background()

	for path, cos := range map[string]float64{"/in/far.png": 0.1, "/in/near.png": 0.9, "/in/mid.png": 0.5} {
		_, err := s.Add(ctx, imageRecord(path, unitAt(cos), "Invoice"))
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, "invoice", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "/in/near.png", results[0].Identity)
	assert.Equal(t, "/in/far.png", results[2].Identity)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-3)
	assert.Equal(t, []string{"invoice"}, results[0].Tags)
	assert.Equal(t, KindImage, results[0].Kind)
}

func TestQdrantStore_DeleteCascade(t *testing.T) {
	fake := newFakeQdrant()
	s := newQdrant(t, fake, nil)
	ctx := context.Background()

	for _, rec := range []analysis.Record{
		pageRecord("/in/doc.pdf", 1, []float32{1, 0}),
		pageRecord("/in/doc.pdf", 2, []float32{0, 1}),
		imageRecord("/in/keep.png", []float32{1, 1}),
	} {
		_, err := s.Add(ctx, rec)
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, "/in/doc.pdf"))
	assert.Equal(t, 1, count(t, s))
	require.NoError(t, s.Delete(ctx, "/in/missing.png"))
}

func TestQdrantStore_GraphQueryExactness(t *testing.T) {
	s := newQdrant(t, newFakeQdrant(), nil)
	ctx := context.Background()

	_, err := s.Add(ctx, pageRecord("/in/r.pdf", 1, []float32{1, 0}, "Samsung", "Q3 2025"))
	require.NoError(t, err)

	for _, name := range []string{"samsung", "SAMSUNG"} {
		g, err := s.GraphQuery(ctx, name, 10)
		require.NoError(t, err)
		require.Len(t, g.Nodes, 2)
		assert.Equal(t, "r.pdf (page 1)", g.Nodes[1].Label)
		require.NotNil(t, g.Nodes[1].PageNumber)
		assert.Equal(t, 1, *g.Nodes[1].PageNumber)
	}

	g, err := s.GraphQuery(ctx, "sam", 10)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
}

func TestQdrantStore_RetriesTransientErrors(t *testing.T) {
	fake := newFakeQdrant()
	s := newQdrant(t, fake, nil)
	fake.failNext = []error{status.Error(grpccodes.Unavailable, "down")}

	out, err := s.Add(context.Background(), imageRecord("/in/a.png", []float32{1, 0}))
	require.NoError(t, err)
	assert.Equal(t, Added, out)
	assert.Equal(t, 2, fake.getCalls)
}

func TestQdrantStore_PermanentErrorNotRetried(t *testing.T) {
	fake := newFakeQdrant()
	s := newQdrant(t, fake, nil)
	fake.failNext = []error{status.Error(grpccodes.InvalidArgument, "bad")}

	out, err := s.Add(context.Background(), imageRecord("/in/a.png", []float32{1, 0}))
	assert.Error(t, err)
	assert.Equal(t, Failed, out)
	assert.Equal(t, 1, fake.getCalls)
}

func TestQdrantStore_CircuitBreaker(t *testing.T) {
	fake := newFakeQdrant()
	s := newQdrant(t, fake, nil)
	s.config.CircuitBreakerThreshold = 2
	unavailable := status.Error(grpccodes.Unavailable, "down")
	fake.failNext = []error{unavailable, unavailable, unavailable}

	_, err := s.Add(context.Background(), imageRecord("/in/a.png", []float32{1, 0}))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	_, err = s.Search(context.Background(), "anything", 1)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "")))
	assert.False(t, IsTransientError(status.Error(grpccodes.NotFound, "")))
	assert.False(t, IsTransientError(nil))
}

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("/in/a.png").GetUuid(), PointID("/in/a.png").GetUuid())
	assert.NotEqual(t, PointID("/in/a.png").GetUuid(), PointID("/in/b.png").GetUuid())
}
