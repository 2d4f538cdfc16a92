package index

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/fyrsmithlabs/contextfs/internal/embeddings"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("contextfs.index.chromem")

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Must already be expanded.
	Path       string
	Compress   bool
	Collection string
	PageProbe  int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "files"
	}
	if c.PageProbe <= 0 {
		c.PageProbe = DefaultPageProbe
	}
}

// ChromemStore implements Store on an embedded, disk-persisted chromem-go DB.
//
// Add holds addMu across the identity lookup and the insert, so within one
// process the duplicate check is atomic.
type ChromemStore struct {
	db       *chromem.DB
	coll     *chromem.Collection
	embedder embeddings.Embedder
	config   ChromemConfig
	logger   *zap.Logger

	addMu sync.Mutex
}

// NewChromemStore opens (or creates) the persistent collection.
func NewChromemStore(cfg ChromemConfig, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	coll, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", cfg.Collection, err)
	}

	logger.Info("chromem index opened",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("entries", coll.Count()),
	)

	return &ChromemStore{
		db:       db,
		coll:     coll,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Add implements Store.
func (s *ChromemStore) Add(ctx context.Context, rec analysis.Record) (AddOutcome, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Add")
	defer span.End()
	span.SetAttributes(attribute.String("identity", rec.Identity))

	if rec.Identity == "" || len(rec.Vector) == 0 {
		err := fmt.Errorf("%w: %q", ErrInvalidRecord, rec.Identity)
		span.SetStatus(codes.Error, err.Error())
		return Failed, err
	}

	s.addMu.Lock()
	defer s.addMu.Unlock()

	if _, err := s.coll.GetByID(ctx, rec.Identity); err == nil {
		span.SetAttributes(attribute.String("outcome", SkippedDuplicate.String()))
		s.logger.Debug("identity already indexed", zap.String("identity", rec.Identity))
		return SkippedDuplicate, nil
	}

	doc := chromem.Document{
		ID:        rec.Identity,
		Metadata:  recordMetadata(rec),
		Embedding: slices.Clone(rec.Vector),
		Content:   rec.ExtractedText,
	}
	if err := s.coll.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failed, fmt.Errorf("adding %s: %w", rec.Identity, err)
	}

	span.SetAttributes(attribute.String("outcome", Added.String()))
	span.SetStatus(codes.Ok, "success")
	return Added, nil
}

// Has implements Store.
func (s *ChromemStore) Has(ctx context.Context, identity string) (bool, error) {
	if identity == "" {
		return false, fmt.Errorf("%w: empty identity", ErrInvalidRecord)
	}
	// GetByID only fails for empty or unknown ids.
	_, err := s.coll.GetByID(ctx, identity)
	return err == nil, nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, text string, limit int) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	count := s.coll.Count()
	if limit <= 0 || count == 0 {
		return []SearchResult{}, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := s.coll.QueryEmbedding(ctx, vec, min(limit, count), nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := s.toResults(hits)
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return sortResults(results, limit), nil
}

// Delete implements Store.
func (s *ChromemStore) Delete(ctx context.Context, sourcePath string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("source_path", sourcePath))

	if sourcePath == "" {
		return nil
	}
	ids := DeleteIdentities(sourcePath, s.config.PageProbe)
	if err := s.coll.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %s: %w", sourcePath, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// GraphQuery implements Store. Only entries carrying the exact tag token
// are considered; they are ranked by similarity to the entity name.
func (s *ChromemStore) GraphQuery(ctx context.Context, entity string, limit int) (*Graph, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.GraphQuery")
	defer span.End()

	token := analysis.NormalizeTag(entity)
	if token == "" {
		return nil, ErrEmptyQuery
	}
	span.SetAttributes(attribute.String("tag", token), attribute.Int("limit", limit))

	count := s.coll.Count()
	if limit <= 0 || count == 0 {
		return buildGraph(entity, nil, 0), nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, entity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding entity: %w", err)
	}

	where := map[string]string{tagKeyPrefix + token: "1"}
	hits, err := s.coll.QueryEmbedding(ctx, vec, min(limit, count), where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying tag %s: %w", token, err)
	}

	results := sortResults(s.toResults(hits), limit)
	span.SetAttributes(attribute.Int("files", len(results)))
	span.SetStatus(codes.Ok, "success")
	return buildGraph(entity, results, limit), nil
}

// Count implements Store.
func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.coll.Count(), nil
}

// Close implements Store. chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) toResults(hits []chromem.Result) []SearchResult {
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		// Cosine distance.
		distance := 1 - float64(h.Similarity)
		results = append(results, resultFromMetadata(h.ID, h.Metadata, Similarity(distance)))
	}
	return results
}
