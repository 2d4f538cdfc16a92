// Package watcher turns fsnotify notifications for a set of root
// directories into typed Created, Moved and Deleted events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed wraps fsnotify initialization failures.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultMovePairWindow is how long a Rename waits for its matching Create.
const DefaultMovePairWindow = 100 * time.Millisecond

// Op is the kind of a watcher event.
type Op int

const (
	Created Op = iota
	Moved
	Deleted
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Moved:
		return "moved"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Event is a filesystem change under a watched root. From is set for Moved.
type Event struct {
	Op   Op
	Path string
	From string
}

// Config configures a Watcher.
type Config struct {
	Roots          []string
	MovePairWindow time.Duration
	// SkipDir reports whether a directory name should not be watched. It
	// receives the full directory path. Hidden directories are always skipped.
	SkipDir func(path string) bool
	Buffer  int
}

// Watcher watches every root recursively.
type Watcher struct {
	fs     *fsnotify.Watcher
	cfg    Config
	logger *zap.Logger

	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// New creates a Watcher. Call Start to begin watching.
func New(cfg Config, logger *zap.Logger) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("%w: no watch roots", ErrWatcherFailed)
	}
	if cfg.MovePairWindow <= 0 {
		cfg.MovePairWindow = DefaultMovePairWindow
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		fs:     fw,
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start adds every root recursively and begins delivering events. Missing
// roots are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	watched := 0
	for _, root := range w.cfg.Roots {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			w.logger.Warn("watch root unavailable", zap.String("root", root), zap.Error(err))
			continue
		}
		if err := w.addTree(root); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
		watched++
	}
	if watched == 0 {
		_ = w.fs.Close()
		return fmt.Errorf("%w: none of the watch roots exist", ErrWatcherFailed)
	}

	w.started.Store(true)
	go w.processEvents(ctx)
	return nil
}

// Events returns the event channel. It is closed after Stop or ctx
// cancellation.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.fs.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) skipDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	return w.cfg.SkipDir != nil && w.cfg.SkipDir(path)
}

// addTree watches dir and every non-skipped directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	var (
		pendingFrom string
		pendingC    <-chan time.Time
	)
	flush := func() bool {
		if pendingFrom == "" {
			return true
		}
		from := pendingFrom
		pendingFrom, pendingC = "", nil
		return w.emit(ctx, Event{Op: Deleted, Path: from})
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case <-pendingC:
			if !flush() {
				return
			}

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			switch {
			case ev.Has(fsnotify.Rename):
				if !flush() {
					return
				}
				pendingFrom = ev.Name
				pendingC = time.After(w.cfg.MovePairWindow)

			case ev.Has(fsnotify.Create):
				out := Event{Op: Created, Path: ev.Name}
				if pendingFrom != "" {
					out = Event{Op: Moved, Path: ev.Name, From: pendingFrom}
					pendingFrom, pendingC = "", nil
				}
				if !w.handleCreate(ctx, out) {
					return
				}

			case ev.Has(fsnotify.Remove):
				if !w.emit(ctx, Event{Op: Deleted, Path: ev.Name}) {
					return
				}
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

// handleCreate emits out. A new directory is watched, and the files already
// inside it are reported as Created.
func (w *Watcher) handleCreate(ctx context.Context, out Event) bool {
	info, err := os.Lstat(out.Path)
	if err != nil || !info.IsDir() {
		return w.emit(ctx, out)
	}
	if out.Op == Moved {
		if !w.emit(ctx, Event{Op: Deleted, Path: out.From}) {
			return false
		}
	}
	if w.skipDir(out.Path) {
		return true
	}
	if err := w.addTree(out.Path); err != nil {
		w.logger.Warn("cannot watch new directory", zap.String("dir", out.Path), zap.Error(err))
		return true
	}

	var files []string
	_ = filepath.WalkDir(out.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != out.Path && w.skipDir(path) {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	for _, f := range files {
		if !w.emit(ctx, Event{Op: Created, Path: f}) {
			return false
		}
	}
	return true
}

func (w *Watcher) emit(ctx context.Context, ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
