// Package poller periodically walks the watch roots and offers every file
// to the ingest coordinator, catching anything the watcher missed.
package poller

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 150 * time.Second

var errStopped = errors.New("sweep stopped")

// Admitter accepts candidate paths.
type Admitter interface {
	Admit(path, userNote string) ingest.AdmitResult
}

// Config configures a Poller.
type Config struct {
	Roots    []string
	Interval time.Duration
	// SkipDir reports whether a directory name should not be walked. It
	// receives the full directory path. Hidden directories are always skipped.
	SkipDir func(path string) bool
	// OnSweep is called after every sweep.
	OnSweep func(SweepStats)
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Seen     int           `json:"seen"`
	Claimed  int           `json:"claimed"`
	Errors   int           `json:"errors"`
}

// Poller runs sweeps in the background.
type Poller struct {
	cfg      Config
	admitter Admitter
	logger   *zap.Logger

	mu      sync.RWMutex
	last    *SweepStats
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Poller.
func New(cfg Config, admitter Admitter, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		admitter: admitter,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the first sweep immediately and then one every interval.
// It returns at once; sweeping happens in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Info("starting poller",
		zap.Duration("interval", p.cfg.Interval), zap.Strings("roots", p.cfg.Roots))
	go p.run(ctx)
}

// Stop halts the poller and waits for an in-progress sweep to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}

// LastSweep returns the most recent completed sweep, or nil.
func (p *Poller) LastSweep() *SweepStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	s := *p.last
	return &s
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	p.Sweep(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

func (p *Poller) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// Sweep walks every root once and offers each regular file to the admitter.
func (p *Poller) Sweep(ctx context.Context) SweepStats {
	stats := SweepStats{ID: uuid.NewString(), Started: time.Now()}
	ctx = logging.WithSweepID(ctx, stats.ID)
	logger := p.logger.With(logging.ContextFields(ctx)...)
	logger.Debug("sweep started")

	for _, root := range p.cfg.Roots {
		if err := p.walk(ctx, root, &stats, logger); err != nil {
			if errors.Is(err, errStopped) {
				logger.Debug("sweep interrupted")
				break
			}
			stats.Errors++
			logger.Warn("walking root failed", zap.String("root", root), zap.Error(err))
		}
	}

	stats.Duration = time.Since(stats.Started)
	p.mu.Lock()
	p.last = &stats
	p.mu.Unlock()
	if p.cfg.OnSweep != nil {
		p.cfg.OnSweep(stats)
	}

	logger.Debug("sweep completed",
		zap.Int("seen", stats.Seen), zap.Int("claimed", stats.Claimed), zap.Duration("took", stats.Duration))
	return stats
}

func (p *Poller) walk(ctx context.Context, root string, stats *SweepStats, logger *zap.Logger) error {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("watch root missing", zap.String("root", root))
			return nil
		}
		return err
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if p.stopped(ctx) {
			return errStopped
		}
		if err != nil {
			stats.Errors++
			logger.Debug("walk error", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && p.skipDir(path) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		stats.Seen++
		if res := p.admitter.Admit(path, ""); res.Status == ingest.Claimed {
			stats.Claimed++
		}
		return nil
	})
}

func (p *Poller) skipDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	return p.cfg.SkipDir != nil && p.cfg.SkipDir(path)
}
