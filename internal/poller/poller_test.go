package poller

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAdmitter struct {
	mu     sync.Mutex
	paths  []string
	status ingest.AdmitStatus
	onCall func()
}

func (r *recordingAdmitter) Admit(path, _ string) ingest.AdmitResult {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	fn := r.onCall
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return ingest.AdmitResult{Status: r.status}
}

func (r *recordingAdmitter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.paths...)
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestSweep_OffersRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))
	writeFile(t, filepath.Join(root, "nested", "b.pdf"))
	writeFile(t, filepath.Join(root, ".cache", "hidden.png"))
	writeFile(t, filepath.Join(root, "drafts", "skip.png"))
	writeFile(t, filepath.Join(root, "nested", "drafts", "c.png"))
	require.NoError(t, os.Symlink(filepath.Join(root, "a.png"), filepath.Join(root, "link.png")))

	adm := &recordingAdmitter{status: ingest.Claimed}
	p := New(Config{
		Roots:   []string{root, filepath.Join(root, "missing")},
		SkipDir: func(path string) bool { return path == filepath.Join(root, "drafts") },
	}, adm, nil)

	stats := p.Sweep(context.Background())

	assert.Equal(t, []string{
		filepath.Join(root, "a.png"),
		filepath.Join(root, "nested", "b.pdf"),
		filepath.Join(root, "nested", "drafts", "c.png"),
	}, adm.seen())
	assert.Equal(t, 3, stats.Seen)
	assert.Equal(t, 3, stats.Claimed)
	assert.Zero(t, stats.Errors)
	assert.NotEmpty(t, stats.ID)
	require.NotNil(t, p.LastSweep())
	assert.Equal(t, stats.ID, p.LastSweep().ID)
}

func TestSweep_CountsOnlyClaims(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))

	adm := &recordingAdmitter{status: ingest.AlreadyClaimed}
	stats := New(Config{Roots: []string{root}}, adm, nil).Sweep(context.Background())

	assert.Equal(t, 1, stats.Seen)
	assert.Zero(t, stats.Claimed)
}

func TestSweep_StopsOnCanceledContext(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		writeFile(t, filepath.Join(root, name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	adm := &recordingAdmitter{onCall: cancel}
	stats := New(Config{Roots: []string{root}}, adm, nil).Sweep(ctx)

	assert.Equal(t, 1, stats.Seen)
	assert.Len(t, adm.seen(), 1)
}

func TestPoller_FirstSweepRunsAtStart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"))

	sweeps := make(chan SweepStats, 4)
	adm := &recordingAdmitter{status: ingest.Claimed}
	p := New(Config{
		Roots:    []string{root},
		Interval: time.Hour,
		OnSweep:  func(s SweepStats) { sweeps <- s },
	}, adm, nil)

	p.Start(context.Background())
	defer p.Stop()

	select {
	case s := <-sweeps:
		assert.Equal(t, 1, s.Claimed)
	case <-time.After(5 * time.Second):
		t.Fatal("first sweep did not run")
	}
}

func TestPoller_SweepsEveryInterval(t *testing.T) {
	root := t.TempDir()
	var mu sync.Mutex
	count := 0
	p := New(Config{
		Roots:    []string{root},
		Interval: 10 * time.Millisecond,
		OnSweep: func(SweepStats) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	}, &recordingAdmitter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	p.Stop()
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	p := New(Config{Roots: []string{t.TempDir()}}, &recordingAdmitter{}, nil)
	p.Stop()

	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
