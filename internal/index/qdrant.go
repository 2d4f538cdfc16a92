package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/fyrsmithlabs/contextfs/internal/embeddings"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("contextfs.index.qdrant")

// ErrCircuitOpen is returned while the qdrant circuit breaker is open.
var ErrCircuitOpen = errors.New("qdrant circuit breaker open")

const (
	payloadTagTokens     = "tag_tokens"
	circuitResetInterval = 30 * time.Second
)

// QdrantConfig configures the qdrant gRPC backend.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	UseTLS     bool
	APIKey     string
	VectorSize int
	PageProbe  int

	MaxRetries   int
	RetryBackoff time.Duration

	// CircuitBreakerThreshold is the number of transient failures before
	// calls fail fast for circuitResetInterval.
	CircuitBreakerThreshold int

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "contextfs_files"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.PageProbe <= 0 {
		c.PageProbe = DefaultPageProbe
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// pointsClient is the subset of *qdrant.Client the store uses.
type pointsClient interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantStore implements Store on a qdrant server over gRPC.
type QdrantStore struct {
	client   pointsClient
	embedder embeddings.Embedder
	config   QdrantConfig
	logger   *zap.Logger

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore dials qdrant, checks health and ensures the collection
// and its tag index exist.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder embeddings.Embedder, logger *zap.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s, err := newQdrantStore(ctx, client, cfg, embedder, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func newQdrantStore(ctx context.Context, client pointsClient, cfg QdrantConfig, embedder embeddings.Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
	}

	s := &QdrantStore{client: client, embedder: embedder, config: cfg, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	logger.Info("qdrant index opened",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	for _, field := range []string{payloadTagTokens, keySourcePath} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.config.Collection,
			FieldName:      field,
			FieldType:      qdrant.PtrOf(qdrant.FieldType_FieldTypeKeyword),
		})
		if err != nil {
			return fmt.Errorf("indexing payload field %s: %w", field, err)
		}
	}
	return nil
}

// PointID derives the qdrant point id for an identity.
func PointID(identity string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(identity)).String())
}

// Add implements Store.
func (s *QdrantStore) Add(ctx context.Context, rec analysis.Record) (AddOutcome, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Add")
	defer span.End()
	span.SetAttributes(attribute.String("identity", rec.Identity))

	if rec.Identity == "" || len(rec.Vector) == 0 {
		err := fmt.Errorf("%w: %q", ErrInvalidRecord, rec.Identity)
		span.SetStatus(codes.Error, err.Error())
		return Failed, err
	}

	id := PointID(rec.Identity)

	exists, err := s.exists(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failed, err
	}
	if exists {
		span.SetAttributes(attribute.String("outcome", SkippedDuplicate.String()))
		return SkippedDuplicate, nil
	}

	payload, err := qdrant.TryValueMap(recordPayload(rec))
	if err != nil {
		return Failed, fmt.Errorf("building payload for %s: %w", rec.Identity, err)
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: []*qdrant.PointStruct{{
				Id:      id,
				Vectors: qdrant.NewVectors(rec.Vector...),
				Payload: payload,
			}},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failed, err
	}

	span.SetAttributes(attribute.String("outcome", Added.String()))
	span.SetStatus(codes.Ok, "success")
	return Added, nil
}

// Has implements Store.
func (s *QdrantStore) Has(ctx context.Context, identity string) (bool, error) {
	if identity == "" {
		return false, fmt.Errorf("%w: empty identity", ErrInvalidRecord)
	}
	return s.exists(ctx, PointID(identity))
}

func (s *QdrantStore) exists(ctx context.Context, id *qdrant.PointId) (bool, error) {
	var existing []*qdrant.RetrievedPoint
	err := s.retry(ctx, "get", func() error {
		var err error
		existing, err = s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            []*qdrant.PointId{id},
		})
		return err
	})
	if err != nil {
		return false, err
	}
	return len(existing) > 0, nil
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, text string, limit int) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.query(ctx, vec, limit, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, sourcePath string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("source_path", sourcePath))

	if sourcePath == "" {
		return nil
	}

	identities := DeleteIdentities(sourcePath, s.config.PageProbe)
	ids := make([]*qdrant.PointId, len(identities))
	for i, identity := range identities {
		ids[i] = PointID(identity)
	}

	err := s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(ids...),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// GraphQuery implements Store.
func (s *QdrantStore) GraphQuery(ctx context.Context, entity string, limit int) (*Graph, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.GraphQuery")
	defer span.End()

	token := analysis.NormalizeTag(entity)
	if token == "" {
		return nil, ErrEmptyQuery
	}
	span.SetAttributes(attribute.String("tag", token), attribute.Int("limit", limit))
	if limit <= 0 {
		return buildGraph(entity, nil, 0), nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, entity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding entity: %w", err)
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeyword(payloadTagTokens, token)},
	}
	results, err := s.query(ctx, vec, limit, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "success")
	return buildGraph(entity, results, limit), nil
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var n uint64
	err := s.retry(ctx, "count", func() error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	return int(n), err
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) query(ctx context.Context, vec []float32, limit int, filter *qdrant.Filter) ([]SearchResult, error) {
	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vec...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		md := payloadMetadata(p.GetPayload())
		// Cosine collections score by similarity.
		distance := 1 - float64(p.GetScore())
		results = append(results, resultFromMetadata(md[keyIdentity], md, Similarity(distance)))
	}
	return sortResults(results, limit), nil
}

func recordPayload(rec analysis.Record) map[string]any {
	md := recordMetadata(rec)
	payload := make(map[string]any, len(md)+1)
	for k, v := range md {
		if strings.HasPrefix(k, tagKeyPrefix) {
			continue
		}
		payload[k] = v
	}
	if rec.PageNumber != nil {
		payload[keyPageNumber] = int64(*rec.PageNumber)
	}
	tokens := analysis.NormalizeTags(rec.Tags)
	list := make([]any, len(tokens))
	for i, t := range tokens {
		list[i] = t
	}
	payload[payloadTagTokens] = list
	return payload
}

func payloadMetadata(payload map[string]*qdrant.Value) map[string]string {
	md := make(map[string]string, len(payload))
	for k, v := range payload {
		switch k {
		case payloadTagTokens:
			continue
		case keyPageNumber:
			md[k] = strconv.FormatInt(v.GetIntegerValue(), 10)
		default:
			md[k] = v.GetStringValue()
		}
	}
	return md
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retry runs op with exponential backoff on transient errors, behind the
// circuit breaker.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	if s.circuitOpen() {
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			s.resetBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("qdrant %s: %w", name, err)
		}

		s.recordFailure()
		if s.circuitOpen() {
			return fmt.Errorf("%s: %w: %v", name, ErrCircuitOpen, err)
		}
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("qdrant %s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}

		s.logger.Debug("transient qdrant error, retrying",
			zap.String("op", name), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("qdrant %s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) resetBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) circuitOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	if s.breaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > circuitResetInterval {
		s.breaker.failures = 0
		return false
	}
	return true
}
