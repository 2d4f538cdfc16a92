package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextfs/internal/analysis"
	"github.com/fyrsmithlabs/contextfs/internal/config"
	"github.com/fyrsmithlabs/contextfs/internal/embeddings"
	"github.com/fyrsmithlabs/contextfs/internal/events"
	api "github.com/fyrsmithlabs/contextfs/internal/http"
	"github.com/fyrsmithlabs/contextfs/internal/ignore"
	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/logging"
	"github.com/fyrsmithlabs/contextfs/internal/maps"
	"github.com/fyrsmithlabs/contextfs/internal/poller"
	"github.com/fyrsmithlabs/contextfs/internal/service"
	"github.com/fyrsmithlabs/contextfs/internal/stability"
	"github.com/fyrsmithlabs/contextfs/internal/telemetry"
	"github.com/fyrsmithlabs/contextfs/internal/watcher"
)

const embeddingTimeout = 30 * time.Second

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. stdio mode logs to stderr.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry, stdio bool) (*logging.Logger, error) {
	lc := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if stdio {
		lc.Output.Stdout = false
		lc.Output.Stderr = true
	}
	if cfg.Telemetry.Enabled && tel.LoggerProvider() != nil {
		lc.Output.OTEL = true
	}
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// run starts the daemon and blocks until ctx is canceled.
//
// Startup order:
//  1. Telemetry and logger
//  2. Embeddings, index and map store (either store failing aborts startup)
//  3. Event publisher and analysis client
//  4. Ingest coordinator, watcher and poller
//  5. Query service and HTTP server
//
// On cancellation the HTTP server drains first, then the poller and watcher
// stop, then the coordinator abandons stabilizing files and waits for
// dispatched ones.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := newLogger(cfg, tel, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Underlying()
	if h := tel.Health(); h.Degraded {
		zlog.Warn("telemetry degraded, continuing without export", zap.String("error", h.Error))
	}

	d, err := newDaemon(ctx, cfg, tel, zlog)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.serve(ctx, cfg.Server.ShutdownTimeout.Duration())
}

// daemon holds every long-lived component.
type daemon struct {
	logger    *zap.Logger
	store     index.Store
	maps      *maps.Store
	publisher events.Publisher
	coord     *ingest.Coordinator
	watcher   *watcher.Watcher
	poller    *poller.Poller
	http      *api.Server
}

func newDaemon(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, logger *zap.Logger) (*daemon, error) {
	roots, err := expandRoots(cfg.Watch.Roots)
	if err != nil {
		return nil, err
	}

	logger.Info("starting contextfs",
		zap.String("version", version),
		zap.Strings("roots", roots),
		zap.String("index_provider", cfg.Index.Provider),
		zap.Int("port", cfg.Server.Port))

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey.Value(),
		Timeout: embeddingTimeout,
	}, logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	d := &daemon{logger: logger, publisher: events.Nop{}}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	d.store, err = index.Open(ctx, cfg.Index, embedder, logger.Named("index"))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	mapsPath, err := config.ExpandHome(cfg.Maps.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding maps path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(mapsPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating maps directory: %w", err)
	}
	d.maps, err = maps.Open(mapsPath, logger.Named("maps"))
	if err != nil {
		return nil, fmt.Errorf("failed to open map store: %w", err)
	}

	if cfg.Events.URL != "" {
		pub, err := events.Connect(cfg.Events.URL, cfg.Events.SubjectPrefix, logger.Named("events"))
		if err != nil {
			logger.Warn("event publishing disabled", zap.String("url", cfg.Events.URL), zap.Error(err))
		} else {
			d.publisher = pub
		}
	}

	analyzer, err := analysis.NewClient(analysis.ClientConfig{
		BaseURL:    cfg.Analysis.BaseURL,
		APIKey:     cfg.Analysis.APIKey.Value(),
		Timeout:    cfg.Analysis.Timeout.Duration(),
		MaxRetries: cfg.Analysis.MaxRetries,
		RateLimit:  cfg.Analysis.RateLimit,
		Burst:      cfg.Analysis.Burst,
	}, embedder, logger.Named("analysis"))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis client: %w", err)
	}

	rules := ignore.NewRules(ignore.NewMatcher(cfg.Watch.IgnoredPatterns))
	for _, root := range roots {
		if err := rules.LoadRoot(root, cfg.Watch.IgnoreFile); err != nil {
			logger.Warn("ignore file unreadable", zap.String("root", root), zap.Error(err))
		}
	}

	detector := stability.New(stability.Config{
		Interval:             cfg.Stability.Interval.Duration(),
		RequiredSamples:      cfg.Stability.RequiredSamples,
		MaxSamples:           cfg.Stability.MaxSamples,
		MissingConfirmations: cfg.Stability.MissingConfirmations,
	}, stability.WithLogger(logger.Named("stability")))

	d.coord, err = ingest.New(ingest.NewFilter(cfg.Watch.Extensions, rules), detector, analyzer, d.store,
		ingest.WithLogger(logger.Named("ingest")),
		ingest.WithPublisher(d.publisher),
		ingest.WithRateLimit(cfg.Ingest.DispatchRate, cfg.Ingest.DispatchBurst),
		ingest.WithMeter(tel.Meter("contextfs/ingest")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	d.watcher, err = watcher.New(watcher.Config{
		Roots:          roots,
		MovePairWindow: cfg.Watch.MovePairWindow.Duration(),
		SkipDir:        rules.MatchDir,
	}, logger.Named("watcher"))
	if err != nil {
		return nil, err
	}

	d.poller = poller.New(poller.Config{
		Roots:    roots,
		Interval: cfg.Watch.PollInterval.Duration(),
		SkipDir:  rules.MatchDir,
	}, d.coord, logger.Named("poller"))

	svc, err := service.New(service.Options{
		Ingest:        d.coord,
		Index:         d.store,
		Maps:          d.maps,
		Logger:        logger.Named("service"),
		LastSweep:     d.poller.LastSweep,
		IndexProvider: cfg.Index.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	d.http, err = api.NewServer(svc, logger.Named("http"), &api.Config{
		Host:  cfg.Server.Host,
		Port:  cfg.Server.Port,
		Meter: tel.Meter("contextfs/http"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create http server: %w", err)
	}

	ok = true
	return d, nil
}

// serve runs until ctx is canceled or the HTTP server fails, then drains
// within shutdownTimeout.
func (d *daemon) serve(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := d.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	go d.coord.Run(ctx, d.watcher.Events())
	d.poller.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.http.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.http.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	d.poller.Stop()
	d.watcher.Stop()
	if err := d.coord.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("coordinator shutdown: %w", err))
	}

	stats := d.coord.Stats()
	d.logger.Info("contextfs stopped",
		zap.Int64("settled", stats.Settled),
		zap.Int64("abandoned", stats.Abandoned),
		zap.Int64("failed", stats.Failed))

	if serveErr != nil {
		return serveErr
	}
	return errors.Join(errs...)
}

// Close releases stores and connections. Safe on a partially built daemon.
func (d *daemon) Close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if d.maps != nil {
		if err := d.maps.Close(); err != nil {
			d.logger.Warn("closing map store", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing index", zap.Error(err))
		}
	}
}

func expandRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		p, err := config.ExpandHome(r)
		if err != nil {
			return nil, fmt.Errorf("expanding watch root %q: %w", r, err)
		}
		out = append(out, filepath.Clean(p))
	}
	return out, nil
}
