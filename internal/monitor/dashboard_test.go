package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/contextfs/internal/client"
	"github.com/fyrsmithlabs/contextfs/internal/ingest"
	"github.com/fyrsmithlabs/contextfs/internal/poller"
	"github.com/fyrsmithlabs/contextfs/internal/service"
)

type staticSource struct {
	status service.Status
	err    error
}

func (s staticSource) Status(context.Context) (service.Status, error) {
	return s.status, s.err
}

func newTestModel(src StatusSource) Model {
	return NewModel(src, "http://localhost:8000", 5*time.Second)
}

func TestNewModel(t *testing.T) {
	model := newTestModel(staticSource{})
	assert.Equal(t, "http://localhost:8000", model.server)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.False(t, model.hasData)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := newTestModel(staticSource{})

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKeyFetches(t *testing.T) {
	model := newTestModel(staticSource{status: service.Status{IndexEntries: 3}})

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)

	msg, ok := cmd().(statusMsg)
	require.True(t, ok)
	assert.Equal(t, 3, msg.status.IndexEntries)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := newTestModel(staticSource{})

	updated, cmd := model.Update(tickMsg(time.Now()))

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestFetchStatus_Error(t *testing.T) {
	msg := fetchStatus(staticSource{err: errors.New("connection refused")})()

	err, ok := msg.(errMsg)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestModel_Update_StatusMsgTracksThroughput(t *testing.T) {
	model := newTestModel(staticSource{})
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	updated, cmd := model.Update(statusMsg{
		status: service.Status{Ingest: ingest.Stats{RecordsIndexed: 10, InFlight: 2}},
		at:     t0,
	})
	assert.Nil(t, cmd)
	m := updated.(Model)
	assert.True(t, m.hasData)
	assert.Empty(t, m.throughput, "first sample has nothing to diff against")
	assert.Equal(t, 2, m.peakInFlight)

	updated, _ = m.Update(statusMsg{
		status: service.Status{Ingest: ingest.Stats{RecordsIndexed: 40, InFlight: 1}},
		at:     t0.Add(30 * time.Second),
	})
	m = updated.(Model)
	require.Len(t, m.throughput, 1)
	assert.InDelta(t, 60.0, m.throughput[0], 0.001)
	assert.InDelta(t, 60.0, m.currentRate(), 0.001)
	assert.Equal(t, 2, m.peakInFlight)

	// daemon restarted
	updated, _ = m.Update(statusMsg{
		status: service.Status{Ingest: ingest.Stats{RecordsIndexed: 1}},
		at:     t0.Add(time.Minute),
	})
	m = updated.(Model)
	assert.Len(t, m.throughput, 1)
	assert.Equal(t, int64(1), m.status.Ingest.RecordsIndexed)
}

func TestModel_Update_ErrMsgThenRecovery(t *testing.T) {
	model := newTestModel(staticSource{})

	updated, cmd := model.Update(errMsg(errors.New("connection refused")))
	m := updated.(Model)
	assert.Nil(t, cmd)
	require.Error(t, m.err)

	updated, _ = m.Update(statusMsg{at: time.Now()})
	assert.NoError(t, updated.(Model).err)
}

func TestAppendToHistory_Bounded(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, 5.0, h[0])
}

func TestModel_View_WithStatus(t *testing.T) {
	model := newTestModel(staticSource{})
	t0 := time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)
	model.observe(service.Status{
		Ingest: ingest.Stats{
			InFlight:          3,
			Admitted:          1500,
			Settled:           1400,
			Abandoned:         2,
			RecordsIndexed:    2048,
			DuplicatesSkipped: 7,
		},
		IndexEntries:  2041,
		IndexProvider: "chromem",
		UptimeSeconds: 8100,
		LastSweep: &poller.SweepStats{
			Started:  t0.Add(-2 * time.Minute),
			Duration: 250 * time.Millisecond,
			Seen:     120,
			Claimed:  4,
		},
	}, t0)

	view := model.View()

	assert.Contains(t, view, "contextfs Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "2h 15m")
	assert.Contains(t, view, "INGESTING")
	assert.Contains(t, view, "Ingestion")
	assert.Contains(t, view, "1,500")
	assert.Contains(t, view, "2,041")
	assert.Contains(t, view, "chromem")
	assert.Contains(t, view, "250.0ms")
	assert.Contains(t, view, "minutes ago")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_IndexUnavailable(t *testing.T) {
	model := newTestModel(staticSource{})
	model.observe(service.Status{IndexEntries: -1}, time.Now())

	view := model.View()
	assert.Contains(t, view, "INDEX UNAVAILABLE")
	assert.Contains(t, view, "no sweep yet")
}

func TestModel_View_WithError(t *testing.T) {
	model := newTestModel(staticSource{})
	model.err = errors.New("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach contextfs")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8000")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	view := newTestModel(staticSource{}).View()

	assert.Contains(t, view, "contextfs Monitor")
	assert.Contains(t, view, "Waiting for")
	assert.Contains(t, view, "[q]")
}

func TestFetchStatus_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ingest":{"in_flight":4,"records_indexed":12},"index_entries":12,"uptime_seconds":5}`))
	}))
	defer srv.Close()

	msg, ok := fetchStatus(client.New(srv.URL))().(statusMsg)
	require.True(t, ok)
	assert.Equal(t, 4, msg.status.Ingest.InFlight)
	assert.Equal(t, 12, msg.status.IndexEntries)
}
