package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/logging"
	"github.com/fyrsmithlabs/contextfs/internal/maps"
	"github.com/fyrsmithlabs/contextfs/internal/poller"
	"go.uber.org/zap"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrUnsupported     = errors.New("unsupported file")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("service unavailable")
)

const (
	MaxSearchLimit = 50
	MaxGraphLimit  = 200
	maxMapNameLen  = 200
)

// API is the query surface consumed by transports.
type API interface {
	Search(ctx context.Context, text string, limit int) ([]index.SearchResult, error)
	DeleteBySourcePath(ctx context.Context, path string) error
	GraphForEntity(ctx context.Context, name string, limit int) (*index.Graph, error)
	ManuallyIndex(ctx context.Context, path, userNote string) (ingest.AdmitResult, error)
	CreateMap(ctx context.Context, name string) (maps.Map, error)
	ListMaps(ctx context.Context) ([]maps.Map, error)
	GetMap(ctx context.Context, id int64) (*maps.MapData, error)
	DeleteMap(ctx context.Context, id int64) error
	AddNode(ctx context.Context, mapID int64, filePath string, x, y int) (maps.Node, error)
	CreateEdge(ctx context.Context, mapID, sourceID, targetID int64, label string) (maps.Edge, error)
	Status(ctx context.Context) Status
}

var _ API = (*Service)(nil)

// Ingester is the part of the ingest coordinator the service drives.
type Ingester interface {
	Admit(path, userNote string) ingest.AdmitResult
	Remove(ctx context.Context, path string) error
	Stats() ingest.Stats
}

// Options configures a Service.
type Options struct {
	Ingest Ingester
	Index  index.Store
	Maps   *maps.Store
	Logger *zap.Logger
	// LastSweep reports the poller's most recent sweep. Optional.
	LastSweep func() *poller.SweepStats
	// IndexProvider names the index backend in status output.
	IndexProvider string
}

// Service implements the query surface.
type Service struct {
	ingest    Ingester
	index     index.Store
	maps      *maps.Store
	logger    *zap.Logger
	lastSweep func() *poller.SweepStats
	provider  string
	started   time.Time
}

// New creates a Service. Ingest, Index and Maps are required.
func New(opts Options) (*Service, error) {
	if opts.Ingest == nil || opts.Index == nil || opts.Maps == nil {
		return nil, errors.New("service: ingest, index and maps are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		ingest:    opts.Ingest,
		index:     opts.Index,
		maps:      opts.Maps,
		logger:    opts.Logger,
		lastSweep: opts.LastSweep,
		provider:  opts.IndexProvider,
		started:   time.Now(),
	}, nil
}

// Search ranks indexed entries by similarity to text.
func (s *Service) Search(ctx context.Context, text string, limit int) ([]index.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	if limit < 1 || limit > MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxSearchLimit)
	}
	results, err := s.index.Search(ctx, text, limit)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	return results, nil
}

// DeleteBySourcePath removes every index entry derived from path and
// releases any in-flight claim on it.
func (s *Service) DeleteBySourcePath(ctx context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	if ingest.ClassifyPath(path) == ingest.Unsupported {
		return fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
	if err := s.ingest.Remove(ctx, path); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// GraphForEntity returns the files whose tags contain name.
func (s *Service) GraphForEntity(ctx context.Context, name string, limit int) (*index.Graph, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", ErrInvalidArgument)
	}
	if limit < 1 || limit > MaxGraphLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidArgument, MaxGraphLimit)
	}
	g, err := s.index.GraphQuery(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("querying graph: %w", err)
	}
	return g, nil
}

// ManuallyIndex applies the admission checks to path and hands it to the
// coordinator. An AlreadyClaimed result is not an error.
func (s *Service) ManuallyIndex(ctx context.Context, path, userNote string) (ingest.AdmitResult, error) {
	path, err := cleanPath(path)
	if err != nil {
		return ingest.AdmitResult{}, err
	}

	res := s.ingest.Admit(path, strings.TrimSpace(userNote))
	switch res.Reason {
	case "":
		s.logger.With(logging.ContextFields(ctx)...).Info("manual index requested",
			zap.String("file", filepath.Base(path)), zap.Stringer("status", res.Status))
		return res, nil
	case ingest.ReasonNotFound:
		return res, fmt.Errorf("%w: file %s", ErrNotFound, path)
	case ingest.ReasonNotRegular:
		return res, fmt.Errorf("%w: %s is not a regular file", ErrInvalidArgument, path)
	case ingest.ReasonShuttingDown:
		return res, fmt.Errorf("%w: shutting down", ErrUnavailable)
	default:
		return res, fmt.Errorf("%w: %s (%s)", ErrUnsupported, filepath.Base(path), res.Reason)
	}
}

// CreateMap creates a named map.
func (s *Service) CreateMap(ctx context.Context, name string) (maps.Map, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return maps.Map{}, fmt.Errorf("%w: map name is required", ErrInvalidArgument)
	}
	if len(name) > maxMapNameLen {
		return maps.Map{}, fmt.Errorf("%w: map name longer than %d bytes", ErrInvalidArgument, maxMapNameLen)
	}
	id, err := s.maps.CreateMap(ctx, name)
	if err != nil {
		if errors.Is(err, maps.ErrMapExists) {
			return maps.Map{}, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return maps.Map{}, err
	}
	return maps.Map{ID: id, Name: name}, nil
}

// ListMaps returns every map ordered by id.
func (s *Service) ListMaps(ctx context.Context) ([]maps.Map, error) {
	return s.maps.ListMaps(ctx)
}

// GetMap materializes a map with its nodes and edges.
func (s *Service) GetMap(ctx context.Context, id int64) (*maps.MapData, error) {
	if _, err := s.requireMap(ctx, id); err != nil {
		return nil, err
	}
	return s.maps.GetMapData(ctx, id)
}

// DeleteMap removes a map and everything in it.
func (s *Service) DeleteMap(ctx context.Context, id int64) error {
	ok, err := s.maps.DeleteMap(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: %d", ErrNotFound, maps.ErrMapNotFound, id)
	}
	return nil
}

// AddNode places an existing file on a map.
func (s *Service) AddNode(ctx context.Context, mapID int64, filePath string, x, y int) (maps.Node, error) {
	if _, err := s.requireMap(ctx, mapID); err != nil {
		return maps.Node{}, err
	}
	path, err := cleanPath(filePath)
	if err != nil {
		return maps.Node{}, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return maps.Node{}, fmt.Errorf("%w: file %s", ErrNotFound, path)
		}
		return maps.Node{}, fmt.Errorf("checking %s: %w", path, err)
	}

	id, err := s.maps.AddNode(ctx, mapID, path, x, y)
	if err != nil {
		return maps.Node{}, err
	}
	return maps.Node{ID: id, MapID: mapID, FilePath: path, X: x, Y: y}, nil
}

// CreateEdge links two nodes that both belong to mapID.
func (s *Service) CreateEdge(ctx context.Context, mapID, sourceID, targetID int64, label string) (maps.Edge, error) {
	if _, err := s.requireMap(ctx, mapID); err != nil {
		return maps.Edge{}, err
	}
	for _, id := range []int64{sourceID, targetID} {
		n, err := s.maps.GetNode(ctx, id)
		if err != nil {
			if errors.Is(err, maps.ErrNodeNotFound) {
				return maps.Edge{}, fmt.Errorf("%w: %w", ErrNotFound, err)
			}
			return maps.Edge{}, err
		}
		if n.MapID != mapID {
			return maps.Edge{}, fmt.Errorf("%w: node %d is not in map %d", ErrNotFound, id, mapID)
		}
	}

	label = strings.TrimSpace(label)
	id, err := s.maps.CreateEdge(ctx, mapID, sourceID, targetID, label)
	if err != nil {
		return maps.Edge{}, err
	}
	return maps.Edge{ID: id, MapID: mapID, SourceNodeID: sourceID, TargetNodeID: targetID, Label: label}, nil
}

func (s *Service) requireMap(ctx context.Context, id int64) (maps.Map, error) {
	m, err := s.maps.GetMap(ctx, id)
	if err != nil {
		if errors.Is(err, maps.ErrMapNotFound) {
			return maps.Map{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return maps.Map{}, err
	}
	return m, nil
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Ingest        ingest.Stats       `json:"ingest"`
	IndexEntries  int                `json:"index_entries"`
	IndexProvider string             `json:"index_provider,omitempty"`
	LastSweep     *poller.SweepStats `json:"last_sweep,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	UptimeSeconds int64              `json:"uptime_seconds"`
}

// Status combines coordinator counters with the index entry count. A
// failing count is logged and reported as -1.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Ingest:        s.ingest.Stats(),
		IndexProvider: s.provider,
		StartedAt:     s.started,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	n, err := s.index.Count(ctx)
	if err != nil {
		s.logger.With(logging.ContextFields(ctx)...).Warn("counting index entries failed", zap.Error(err))
		n = -1
	}
	st.IndexEntries = n
	if s.lastSweep != nil {
		st.LastSweep = s.lastSweep()
	}
	return st
}

func cleanPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: file path is required", ErrInvalidArgument)
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: file path must be absolute", ErrInvalidArgument)
	}
	return filepath.Clean(path), nil
}
