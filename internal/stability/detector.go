// Package stability decides when a file has finished being written.
//
// A file is stable once its size has been observed unchanged and nonzero
// across a configured number of consecutive samples.
package stability

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
)

// Outcome is the result of waiting for a file to settle.
type Outcome int

const (
	// Stable means the size held for the required number of samples.
	Stable Outcome = iota
	// TimedOut means the sample budget ran out first.
	TimedOut
	// Disappeared means the file was confirmed missing.
	Disappeared
	// Canceled means shutdown was observed between samples.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Stable:
		return "stable"
	case TimedOut:
		return "timed_out"
	case Disappeared:
		return "disappeared"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Config controls sampling.
type Config struct {
	Interval        time.Duration
	RequiredSamples int
	MaxSamples      int
	// MissingConfirmations is how many consecutive not-exist samples are
	// needed before a file counts as gone.
	MissingConfirmations int
}

// DefaultConfig samples every 2s, needs 3 matching samples and gives up after 120.
func DefaultConfig() Config {
	return Config{
		Interval:             2 * time.Second,
		RequiredSamples:      3,
		MaxSamples:           120,
		MissingConfirmations: 2,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.RequiredSamples < 1 {
		c.RequiredSamples = def.RequiredSamples
	}
	if c.MaxSamples < c.RequiredSamples {
		c.MaxSamples = c.RequiredSamples
	}
	if c.MissingConfirmations < 1 {
		c.MissingConfirmations = def.MissingConfirmations
	}
}

// StatFunc returns the current size of path.
type StatFunc func(path string) (int64, error)

// SleepFunc waits for d and reports false if ctx ended first.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// Result describes a finished wait.
type Result struct {
	Outcome Outcome
	Samples int
	Size    int64
}

// Detector samples file sizes until they settle.
type Detector struct {
	cfg    Config
	stat   StatFunc
	sleep  SleepFunc
	logger *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithStat replaces os.Stat based sampling.
func WithStat(fn StatFunc) Option {
	return func(d *Detector) { d.stat = fn }
}

// WithSleep replaces the timer based sleep.
func WithSleep(fn SleepFunc) Option {
	return func(d *Detector) { d.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a Detector.
func New(cfg Config, opts ...Option) *Detector {
	cfg.applyDefaults()
	d := &Detector{
		cfg:    cfg,
		stat:   statSize,
		sleep:  sleepCtx,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Await samples path until it is stable, disappears, exhausts the sample
// budget, or ctx is canceled. The first sample is taken immediately.
func (d *Detector) Await(ctx context.Context, path string) Result {
	var (
		lastSize int64 = -1
		streak   int
		missing  int
	)

	for sample := 1; sample <= d.cfg.MaxSamples; sample++ {
		if sample > 1 && !d.sleep(ctx, d.cfg.Interval) {
			return Result{Outcome: Canceled, Samples: sample - 1, Size: lastSize}
		}

		size, err := d.stat(path)
		switch {
		case err == nil:
			missing = 0
		case errors.Is(err, fs.ErrNotExist):
			missing++
			streak = 0
			lastSize = -1
			if missing >= d.cfg.MissingConfirmations {
				return Result{Outcome: Disappeared, Samples: sample}
			}
			continue
		default:
			// Unreadable is not gone: reset and keep sampling.
			missing = 0
			streak = 0
			lastSize = -1
			d.logger.Debug("transient stat failure",
				zap.String("path", path), zap.Int("sample", sample), zap.Error(err))
			continue
		}

		if size > 0 && size == lastSize {
			streak++
		} else if size > 0 {
			streak = 1
		} else {
			streak = 0
		}
		lastSize = size

		if streak >= d.cfg.RequiredSamples {
			return Result{Outcome: Stable, Samples: sample, Size: size}
		}
	}

	return Result{Outcome: TimedOut, Samples: d.cfg.MaxSamples, Size: lastSize}
}

// AwaitStability runs a one-off Detector with os.Stat sampling.
func AwaitStability(ctx context.Context, path string, interval time.Duration, required, maxSamples int) Outcome {
	d := New(Config{
		Interval:        interval,
		RequiredSamples: required,
		MaxSamples:      maxSamples,
	})
	return d.Await(ctx, path).Outcome
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fs.ErrNotExist
	}
	return info.Size(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
