package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/fyrsmithlabs/contextfs/internal/events"
	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/stability"
	"github.com/stretchr/testify/require"
)

// fakeAnalyzer returns one record per image and pages records per document.
type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	pages   int
	tags    []string
	err     error
	nilRec  bool
	started chan string
	gate    chan struct{}
}

func (f *fakeAnalyzer) enter(path string) error {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	started, gate, err := f.started, f.gate, f.err
	f.mu.Unlock()
	if started != nil {
		started <- path
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeAnalyzer) AnalyzeImage(_ context.Context, path, note string) (*analysis.Record, error) {
	if err := f.enter(path); err != nil {
		return nil, err
	}
	if f.nilRec {
		return nil, nil
	}
	return &analysis.Record{
		Identity:   path,
		SourcePath: path,
		Tags:       f.tags,
		UserNote:   note,
		Vector:     []float32{1, 0},
	}, nil
}

func (f *fakeAnalyzer) AnalyzeDocument(_ context.Context, path, note string) ([]analysis.Record, error) {
	if err := f.enter(path); err != nil {
		return nil, err
	}
	var recs []analysis.Record
	for n := 1; n <= f.pages; n++ {
		page := n
		recs = append(recs, analysis.Record{
			Identity:   analysis.PageIdentity(path, n),
			SourcePath: path,
			PageNumber: &page,
			Tags:       f.tags,
			Vector:     []float32{0, 1},
		})
	}
	return recs, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memStore is an in-memory index.Store.
type memStore struct {
	mu      sync.Mutex
	records map[string]analysis.Record
	deleted []string
	addErr  error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]analysis.Record{}}
}

func (m *memStore) Add(_ context.Context, rec analysis.Record) (index.AddOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return index.Failed, m.addErr
	}
	if _, ok := m.records[rec.Identity]; ok {
		return index.SkippedDuplicate, nil
	}
	m.records[rec.Identity] = rec
	return index.Added, nil
}

func (m *memStore) Has(_ context.Context, identity string) (bool, error) {
	return m.has(identity), nil
}

func (m *memStore) Search(context.Context, string, int) ([]index.SearchResult, error) {
	return nil, nil
}

func (m *memStore) Delete(_ context.Context, sourcePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, sourcePath)
	for id, rec := range m.records {
		if rec.SourcePath == sourcePath {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memStore) GraphQuery(_ context.Context, entity string, _ int) (*index.Graph, error) {
	return &index.Graph{}, nil
}

func (m *memStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[identity]
	return ok
}

func (m *memStore) deletedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// capturePublisher records published events.
type capturePublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, ev := range p.evs {
		out = append(out, ev.Type)
	}
	return out
}

// instantSleep never waits but honors cancellation.
func instantSleep(ctx context.Context, _ time.Duration) bool {
	return ctx.Err() == nil
}

// blockingSleep waits until ctx is canceled.
func blockingSleep(ctx context.Context, _ time.Duration) bool {
	<-ctx.Done()
	return false
}

func constantSize(size int64) stability.StatFunc {
	return func(string) (int64, error) { return size, nil }
}

func fastDetector(opts ...stability.Option) *stability.Detector {
	base := []stability.Option{stability.WithStat(constantSize(10)), stability.WithSleep(instantSleep)}
	return stability.New(stability.Config{
		Interval:             time.Millisecond,
		RequiredSamples:      3,
		MaxSamples:           10,
		MissingConfirmations: 2,
	}, append(base, opts...)...)
}

func newCoordinator(t *testing.T, det *stability.Detector, an *fakeAnalyzer, store index.Store, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(NewFilter(nil, nil), det, an, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	return path
}

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond
