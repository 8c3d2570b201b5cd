// Package tui is the live observability dashboard: a bubbletea program that
// polls port.ObservabilitySurface and renders credential, stamina, and
// per-context queue state for an operator watching a running process.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/relaywing/mediator/internal/domain/port"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF87"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	sectionStyle = lipgloss.NewStyle().MarginTop(1)
)

// Config configures the dashboard.
type Config struct {
	Surface         port.ObservabilitySurface
	RefreshInterval time.Duration
}

// Model is the bubbletea model backing the dashboard.
type Model struct {
	surface  port.ObservabilitySurface
	interval time.Duration
	snap     port.ObservabilitySnapshot
	width    int
	queues   table.Model
}

// New builds a dashboard Model. RefreshInterval defaults to one second.
func New(cfg Config) Model {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Second
	}
	queues := table.New(
		table.WithColumns([]table.Column{
			{Title: "context", Width: 24},
			{Title: "depth", Width: 7},
			{Title: "state", Width: 12},
			{Title: "last reason", Width: 20},
		}),
		table.WithFocused(false),
		table.WithHeight(8),
	)
	return Model{surface: cfg.Surface, interval: interval, width: 100, queues: queues}
}

// Run starts the bubbletea program and blocks until the operator quits.
func Run(cfg Config) error {
	_, err := tea.NewProgram(New(cfg)).Run()
	return err
}

type tickMsg time.Time

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return m.surface.Snapshot()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	case port.ObservabilitySnapshot:
		m.snap = msg
		rows := make([]table.Row, 0, len(msg.Queues))
		for _, q := range msg.Queues {
			state := "idle"
			if q.Processing {
				state = "processing"
			}
			rows = append(rows, table.Row{q.ContextID, fmt.Sprintf("%d", q.QueueDepth), state, q.LastReason})
		}
		m.queues.SetRows(rows)
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("mediator — live status") + "  " + labelStyle.Render("(q to quit)") + "\n")

	b.WriteString(sectionStyle.Render(titleStyle.Render("stamina")) + "\n")
	b.WriteString(renderStaminaBar(m.snap.Stamina, m.width) + "\n")

	b.WriteString(sectionStyle.Render(titleStyle.Render(fmt.Sprintf("credentials (%d)", len(m.snap.Credentials)))) + "\n")
	if len(m.snap.Credentials) == 0 {
		b.WriteString(labelStyle.Render("  none configured") + "\n")
	}
	for _, c := range m.snap.Credentials {
		style := okStyle
		if c.State != "healthy" {
			style = badStyle
		}
		b.WriteString(fmt.Sprintf("  %-24s %s  errors=%d\n", c.Fingerprint, style.Render(c.State), c.ErrorCount))
	}

	b.WriteString(sectionStyle.Render(titleStyle.Render(fmt.Sprintf("queues (%d)", len(m.snap.Queues)))) + "\n")
	if len(m.snap.Queues) == 0 {
		b.WriteString(labelStyle.Render("  no active contexts") + "\n")
	} else {
		b.WriteString(m.queues.View() + "\n")
	}

	b.WriteString(sectionStyle.Render(titleStyle.Render("correlator")) + "\n")
	b.WriteString(fmt.Sprintf("  %s %d\n", labelStyle.Render("pending replies"), m.snap.PendingCorrelation))

	groupState := okStyle.Render("enabled")
	if !m.snap.GroupProcessing {
		groupState = badStyle.Render("disabled")
	}
	b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render("group processing"), groupState))

	return b.String()
}

func renderStaminaBar(s port.StaminaStatus, width int) string {
	barWidth := width - 20
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 60 {
		barWidth = 60
	}
	ratio := 0.0
	if s.Max > 0 {
		ratio = s.Current / s.Max
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * float64(barWidth))

	style := okStyle
	switch s.Level {
	case "low":
		style = warnStyle
	case "critical":
		style = badStyle
	}

	bar := style.Render(strings.Repeat("█", filled)) + labelStyle.Render(strings.Repeat("░", barWidth-filled))
	rest := ""
	if s.RestMode {
		rest = "  " + warnStyle.Render("(resting)")
	}
	return fmt.Sprintf("  [%s] %.0f/%.0f %s%s", bar, s.Current, s.Max, s.Level, rest)
}
