// Package ingest admits dropped files, waits for them to stabilize and
// dispatches them to analysis and the index.
//
// Each path moves through Claimed, Stabilizing, Dispatched and finally
// Settled or Abandoned. At most one cycle per path is in flight: the claim
// set is checked and updated under a single mutex.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/fyrsmithlabs/contextfs/internal/events"
	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/logging"
	"github.com/fyrsmithlabs/contextfs/internal/stability"
	"github.com/fyrsmithlabs/contextfs/internal/watcher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoRecords is logged when analysis produced nothing to index.
var ErrNoRecords = errors.New("analysis produced no records")

// AdmitStatus is the result of an admission attempt.
type AdmitStatus int

const (
	Claimed AdmitStatus = iota
	AlreadyClaimed
	Rejected
)

func (s AdmitStatus) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "rejected"
	}
}

// AdmitResult describes an Admit call.
type AdmitResult struct {
	Status AdmitStatus
	Kind   FileKind
	Reason RejectReason
}

type claim struct {
	path   string
	kind   FileKind
	note   string
	cancel context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithRateLimit bounds how fast stable files are dispatched to analysis.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Coordinator) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMeter sets the meter used for ingest instruments.
func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) { c.meter = m }
}

// Coordinator is the single admission point for the watcher, the poller
// and manual indexing.
type Coordinator struct {
	mu     sync.Mutex
	claims map[string]*claim
	closed bool

	filter    *Filter
	detector  *stability.Detector
	analyzer  analysis.Analyzer
	store     index.Store
	publisher events.Publisher
	limiter   *rate.Limiter
	logger    *zap.Logger
	meter     metric.Meter
	metrics   *metrics
	counts    counters

	wg      sync.WaitGroup
	stopCtx context.Context
	stopFn  context.CancelFunc
}

// New creates a Coordinator.
func New(filter *Filter, detector *stability.Detector, analyzer analysis.Analyzer, store index.Store, opts ...Option) (*Coordinator, error) {
	if filter == nil || detector == nil || analyzer == nil || store == nil {
		return nil, errors.New("ingest: filter, detector, analyzer and store are required")
	}

	stopCtx, stopFn := context.WithCancel(context.Background())
	c := &Coordinator{
		claims:    make(map[string]*claim),
		filter:    filter,
		detector:  detector,
		analyzer:  analyzer,
		store:     store,
		publisher: events.Nop{},
		limiter:   rate.NewLimiter(rate.Inf, 0),
		logger:    zap.NewNop(),
		stopCtx:   stopCtx,
		stopFn:    stopFn,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meter == nil {
		c.meter = otel.Meter("github.com/fyrsmithlabs/contextfs/internal/ingest")
	}
	c.metrics = newMetrics(c.meter, c.logger)
	return c, nil
}

// Admit claims path for one stability and dispatch cycle. Admitting a path
// that is already claimed is a no-op.
func (c *Coordinator) Admit(path, userNote string) AdmitResult {
	path = filepath.Clean(path)
	kind, reason := c.filter.Check(path)
	if reason != "" {
		c.logger.Debug("path not admitted", zap.String("path", path), zap.String("reason", string(reason)))
		return AdmitResult{Status: Rejected, Kind: kind, Reason: reason}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return AdmitResult{Status: Rejected, Kind: kind, Reason: ReasonShuttingDown}
	}
	if _, ok := c.claims[path]; ok {
		c.mu.Unlock()
		return AdmitResult{Status: AlreadyClaimed, Kind: kind}
	}
	ctx, cancel := context.WithCancel(c.stopCtx)
	cl := &claim{path: path, kind: kind, note: userNote, cancel: cancel}
	c.claims[path] = cl
	c.wg.Add(1)
	c.mu.Unlock()

	c.counts.admitted.Add(1)
	c.logger.Debug("claimed", zap.String("path", path), zap.Stringer("kind", kind))
	go c.process(ctx, cl)
	return AdmitResult{Status: Claimed, Kind: kind}
}

// Remove releases any claim on path, cancelling a pending stability wait,
// and deletes its index entries.
func (c *Coordinator) Remove(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	c.mu.Lock()
	cl := c.claims[path]
	delete(c.claims, path)
	c.mu.Unlock()
	if cl != nil {
		cl.cancel()
	}

	if ClassifyPath(path) == Unsupported {
		return nil
	}
	if err := c.store.Delete(ctx, path); err != nil {
		c.logger.Error("removing from index failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		return fmt.Errorf("removing %s: %w", path, err)
	}
	c.counts.removed.Add(1)
	c.publish(ctx, events.Event{Type: events.Removed, Path: path})
	c.logger.Info("removed from index", zap.String("file", filepath.Base(path)))
	return nil
}

// Move handles a rename: the source is removed and the destination admitted.
func (c *Coordinator) Move(ctx context.Context, from, to string) AdmitResult {
	if err := c.Remove(ctx, from); err != nil {
		c.logger.Warn("move source not removed", zap.String("from", from), zap.Error(err))
	}
	return c.Admit(to, "")
}

// Run consumes watcher events until ctx is done or events is closed.
func (c *Coordinator) Run(ctx context.Context, evs <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			switch ev.Op {
			case watcher.Created:
				c.Admit(ev.Path, "")
			case watcher.Moved:
				c.Move(ctx, ev.From, ev.Path)
			case watcher.Deleted:
				_ = c.Remove(ctx, ev.Path)
			}
		}
	}
}

// Shutdown stops new admissions, abandons files still stabilizing and
// waits for dispatched work to finish or ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stopFn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight files: %w", ctx.Err())
	}
}

// IsClaimed reports whether path currently holds a claim.
func (c *Coordinator) IsClaimed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.claims[filepath.Clean(path)]
	return ok
}

// Stats returns a snapshot of coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	inFlight := len(c.claims)
	c.mu.Unlock()
	return Stats{
		InFlight:          inFlight,
		Admitted:          c.counts.admitted.Load(),
		Settled:           c.counts.settled.Load(),
		Abandoned:         c.counts.abandoned.Load(),
		Failed:            c.counts.failed.Load(),
		Removed:           c.counts.removed.Load(),
		RecordsIndexed:    c.counts.recordsIndexed.Load(),
		DuplicatesSkipped: c.counts.duplicatesSkipped.Load(),
	}
}

// release drops the claim if it is still the one held for its path.
func (c *Coordinator) release(cl *claim) {
	c.mu.Lock()
	if c.claims[cl.path] == cl {
		delete(c.claims, cl.path)
	}
	c.mu.Unlock()
	cl.cancel()
}

func (c *Coordinator) process(ctx context.Context, cl *claim) {
	defer c.wg.Done()
	defer c.release(cl)
	defer func() {
		if r := recover(); r != nil {
			c.counts.failed.Add(1)
			c.logger.Error("ingest worker panicked",
				zap.String("file", filepath.Base(cl.path)), zap.Any("panic", r))
		}
	}()

	ctx = logging.WithFilePath(ctx, cl.path)
	logger := c.logger.With(logging.ContextFields(ctx)...)

	if c.alreadyIndexed(ctx, cl, logger) {
		return
	}

	start := time.Now()
	res := c.detector.Await(ctx, cl.path)
	c.metrics.stability(ctx, time.Since(start), res.Outcome.String())
	if res.Outcome != stability.Stable {
		c.abandon(ctx, cl, res.Outcome.String())
		return
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.abandon(ctx, cl, "canceled before dispatch")
		return
	}

	// Dispatched work finishes even if shutdown or removal happens now.
	c.dispatch(context.WithoutCancel(ctx), cl, logger)
}

// alreadyIndexed settles the claim without analysis when the store already
// holds its identity. Lookup errors fall through to a normal cycle.
func (c *Coordinator) alreadyIndexed(ctx context.Context, cl *claim, logger *zap.Logger) bool {
	identity := cl.path
	if cl.kind == Document {
		identity = analysis.PageIdentity(cl.path, 1)
	}
	ok, err := c.store.Has(ctx, identity)
	if err != nil {
		logger.Warn("index lookup failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	c.counts.settled.Add(1)
	c.counts.duplicatesSkipped.Add(1)
	c.metrics.outcome(ctx, cl.kind, "duplicate")
	logger.Debug("already indexed")
	return true
}

// holds reports whether cl is still the live claim for its path.
func (c *Coordinator) holds(cl *claim) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims[cl.path] == cl
}

func (c *Coordinator) abandon(ctx context.Context, cl *claim, reason string) {
	c.counts.abandoned.Add(1)
	c.metrics.outcome(ctx, cl.kind, "abandoned")
	c.logger.Info("abandoned", zap.String("file", filepath.Base(cl.path)), zap.String("reason", reason))
	c.publish(ctx, events.Event{Type: events.Abandoned, Path: cl.path, Reason: reason})
}

func (c *Coordinator) fail(ctx context.Context, cl *claim, logger *zap.Logger, msg string, err error) {
	c.counts.failed.Add(1)
	c.metrics.outcome(ctx, cl.kind, "failed")
	logger.Error(msg, zap.Error(err))
	c.publish(ctx, events.Event{Type: events.Failed, Path: cl.path, Reason: err.Error()})
}

func (c *Coordinator) dispatch(ctx context.Context, cl *claim, logger *zap.Logger) {
	start := time.Now()
	defer func() { c.metrics.dispatch(ctx, cl.kind, time.Since(start)) }()

	records, err := c.analyze(ctx, cl)
	if err != nil {
		c.fail(ctx, cl, logger, "analysis failed", err)
		return
	}

	var added, skipped int
	var addErr error
	revoked := false
	for _, rec := range records {
		if !c.holds(cl) {
			revoked = true
			break
		}
		out, err := c.store.Add(ctx, rec)
		c.metrics.record(ctx, out.String())
		switch {
		case err != nil:
			addErr = errors.Join(addErr, fmt.Errorf("%s: %w", rec.Identity, err))
		case out == index.SkippedDuplicate:
			skipped++
		default:
			added++
		}
	}
	c.counts.recordsIndexed.Add(int64(added))
	c.counts.duplicatesSkipped.Add(int64(skipped))

	// Remove ran during analysis or between adds. Undo what this claim wrote.
	if revoked || !c.holds(cl) {
		if err := c.store.Delete(ctx, cl.path); err != nil {
			logger.Error("undoing removed file failed", zap.Error(err))
		}
		c.abandon(ctx, cl, "removed during dispatch")
		return
	}

	if addErr != nil {
		c.fail(ctx, cl, logger, "indexing failed", addErr)
		return
	}

	c.counts.settled.Add(1)
	c.metrics.outcome(ctx, cl.kind, "settled")
	logger.Info("indexed", zap.Int("added", added), zap.Int("skipped", skipped))
	c.publish(ctx, events.Event{Type: events.Indexed, Path: cl.path, Identity: cl.path, Records: added})
}

// analyze runs the analysis path selected by the claim's kind.
func (c *Coordinator) analyze(ctx context.Context, cl *claim) ([]analysis.Record, error) {
	switch cl.kind {
	case Image:
		rec, err := c.analyzer.AnalyzeImage(ctx, cl.path, cl.note)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrNoRecords
		}
		return []analysis.Record{*rec}, nil
	case Document:
		recs, err := c.analyzer.AnalyzeDocument(ctx, cl.path, cl.note)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, ErrNoRecords
		}
		return recs, nil
	default:
		return nil, fmt.Errorf("unsupported file kind %s", cl.kind)
	}
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) {
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("publishing event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
