// Package monitor renders a terminal dashboard of a running contextfs daemon.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/contextfs/internal/service"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	fetchTimeout    = 5 * time.Second
)

// StatusSource returns the daemon's current status.
type StatusSource interface {
	Status(ctx context.Context) (service.Status, error)
}

// Model represents the BubbleTea dashboard model
type Model struct {
	source     StatusSource
	server     string
	interval   time.Duration
	lastUpdate time.Time
	status     service.Status
	hasData    bool
	err        error
	quitting   bool

	// records/min between consecutive polls
	throughput   []float64
	peakInFlight int

	inFlightProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling source every interval. server is
// only displayed.
func NewModel(source StatusSource, server string, interval time.Duration) Model {
	return Model{
		source:   source,
		server:   server,
		interval: interval,
		inFlightProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		throughput:   make([]float64, 0, historySize),
		peakInFlight: 1,
	}
}

// Run starts the dashboard on the terminal and blocks until the user quits.
func Run(source StatusSource, server string, interval time.Duration) error {
	_, err := tea.NewProgram(NewModel(source, server, interval), tea.WithAltScreen()).Run()
	return err
}

// getStatusBadge summarizes daemon health.
func getStatusBadge(st service.Status) string {
	switch {
	case st.IndexEntries < 0:
		return errorStyle.Render("✗ INDEX UNAVAILABLE")
	case st.Ingest.InFlight > 0:
		return warningStyle.Render("⟳ INGESTING")
	default:
		return healthyStyle.Render("✓ IDLE")
	}
}

// getOutcomeBadge flags terminal failures.
func getOutcomeBadge(failed, abandoned int64) string {
	switch {
	case failed > 0:
		return errorStyle.Render("[✗]")
	case abandoned > 0:
		return warningStyle.Render("[⚠]")
	default:
		return healthyStyle.Render("[✓]")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time

type statusMsg struct {
	status service.Status
	at     time.Time
}

type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.source),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchStatus polls the daemon.
func fetchStatus(source StatusSource) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		st, err := source.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg{status: st, at: time.Now()}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.source)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStatus(m.source),
		)

	case statusMsg:
		m.observe(msg.status, msg.at)
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// observe records a poll. Throughput needs two samples; a counter that went
// backwards means the daemon restarted and the sample is skipped.
func (m *Model) observe(st service.Status, at time.Time) {
	if m.hasData && !m.lastUpdate.IsZero() {
		elapsed := at.Sub(m.lastUpdate).Minutes()
		delta := st.Ingest.RecordsIndexed - m.status.Ingest.RecordsIndexed
		if elapsed > 0 && delta >= 0 {
			m.throughput = appendToHistory(m.throughput, float64(delta)/elapsed)
		}
	}
	if st.Ingest.InFlight > m.peakInFlight {
		m.peakInFlight = st.Ingest.InFlight
	}
	m.status = st
	m.lastUpdate = at
	m.hasData = true
}

// currentRate is the most recent throughput sample.
func (m Model) currentRate() float64 {
	if len(m.throughput) == 0 {
		return 0
	}
	return m.throughput[len(m.throughput)-1]
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" contextfs Monitor ")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach contextfs") + "\n\n")
	b.WriteString(dimStyle.Render("Server: ") + valueStyle.Render(m.server) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with: contextfs") + "\n")
	b.WriteString(m.renderFooter())

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	st := m.status
	in := st.Ingest

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	b.WriteString(headerStyle.Render(" contextfs Monitor ") + "\n")
	if !m.hasData {
		b.WriteString(dimStyle.Render("Waiting for "+m.server+" ...") + "\n")
		b.WriteString(m.renderFooter())
		return containerStyle.Render(b.String())
	}

	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		getStatusBadge(st),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatUptime(st.UptimeSeconds)),
		dimStyle.Render(lastUpdateStr)))

	b.WriteString("\n" + sectionStyle.Render("┃ Ingestion") + "\n")
	b.WriteString(labelStyle.Render("  Throughput: ") +
		valueStyle.Render(FormatRate(m.currentRate())) +
		"   " + createSparkline(m.throughput) + "\n")

	ratio := float64(in.InFlight) / float64(m.peakInFlight)
	if ratio > 1.0 {
		ratio = 1.0
	}
	b.WriteString(labelStyle.Render("  In flight: ") +
		m.inFlightProgress.ViewAs(ratio) +
		" " + valueStyle.Render(fmt.Sprintf("%d", in.InFlight)) +
		dimStyle.Render(fmt.Sprintf(" (peak %d)", m.peakInFlight)) + "\n")

	b.WriteString(labelStyle.Render("  Admitted: ") + valueStyle.Render(FormatCount(in.Admitted)) +
		labelStyle.Render("  Settled: ") + valueStyle.Render(FormatCount(in.Settled)) +
		labelStyle.Render("  Removed: ") + valueStyle.Render(FormatCount(in.Removed)) + "\n")
	b.WriteString(labelStyle.Render("  Abandoned: ") + valueStyle.Render(FormatCount(in.Abandoned)) +
		labelStyle.Render("  Failed: ") + valueStyle.Render(FormatCount(in.Failed)) +
		" " + getOutcomeBadge(in.Failed, in.Abandoned) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Index") + "\n")
	entries := dimStyle.Render("unavailable")
	if st.IndexEntries >= 0 {
		entries = valueStyle.Render(FormatCount(int64(st.IndexEntries)))
	}
	b.WriteString(labelStyle.Render("  Entries: ") + entries)
	if st.IndexProvider != "" {
		b.WriteString(dimStyle.Render("  (" + st.IndexProvider + ")"))
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("  Records indexed: ") + valueStyle.Render(FormatCount(in.RecordsIndexed)) +
		labelStyle.Render("  Duplicates skipped: ") + valueStyle.Render(FormatCount(in.DuplicatesSkipped)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Poller") + "\n")
	if sw := st.LastSweep; sw != nil {
		b.WriteString(labelStyle.Render("  Last sweep: ") +
			valueStyle.Render(FormatAgo(sw.Started, m.lastUpdate)) +
			dimStyle.Render(" in "+FormatLatency(sw.Duration)) + "\n")
		b.WriteString(labelStyle.Render("  Seen: ") + valueStyle.Render(FormatCount(int64(sw.Seen))) +
			labelStyle.Render("  Claimed: ") + valueStyle.Render(FormatCount(int64(sw.Claimed))) +
			labelStyle.Render("  Errors: ") + valueStyle.Render(FormatCount(int64(sw.Errors))) + "\n")
	} else {
		b.WriteString(dimStyle.Render("  no sweep yet") + "\n")
	}

	b.WriteString(m.renderFooter())
	return containerStyle.Render(b.String())
}

func (m Model) renderFooter() string {
	return "\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
}
