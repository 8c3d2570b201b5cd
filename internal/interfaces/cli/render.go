// Package cli renders admin command output for the operator terminal.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/relaywing/mediator/internal/domain/port"
)

var (
	colorCyan   = lipgloss.Color("#00D7FF")
	colorGray   = lipgloss.Color("#6C6C6C")
	colorGreen  = lipgloss.Color("#00FF87")
	colorYellow = lipgloss.Color("#FFD75F")
	colorRed    = lipgloss.Color("#FF5F5F")
)

// Renderer formats command replies and observability snapshots for a
// terminal. Plain replies get a single foreground color (RenderLine); the
// snapshot view adds section headers and per-state colors.
type Renderer struct {
	width   int
	glamour *glamour.TermRenderer
}

// NewRenderer builds a renderer for the given terminal width (0 picks a
// sane default).
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 100
	}
	g, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{width: width, glamour: g}
}

// RenderMarkdown renders the operator's persona.md as styled terminal
// output, falling back to the raw text if the renderer failed to build.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderLine wraps a plain admin reply in a neutral style.
func (r *Renderer) RenderLine(text string) string {
	return lipgloss.NewStyle().Foreground(colorCyan).Render(text)
}

// RenderError highlights an operator-facing error.
func (r *Renderer) RenderError(text string) string {
	return lipgloss.NewStyle().Foreground(colorRed).Bold(true).Render(text)
}

// RenderSnapshot formats the full observability surface as a compact
// multi-section table.
func (r *Renderer) RenderSnapshot(snap port.ObservabilitySnapshot) string {
	var b strings.Builder

	header := lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	label := lipgloss.NewStyle().Foreground(colorGray)

	b.WriteString(header.Render("stamina") + "\n")
	stam := snap.Stamina
	b.WriteString(fmt.Sprintf("  %s %.1f/%.1f  %s %s  %s %v\n",
		label.Render("level"), stam.Current, stam.Max,
		label.Render("band"), stam.Level,
		label.Render("rest"), stam.RestMode))

	b.WriteString(header.Render("credentials") + "\n")
	if len(snap.Credentials) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range snap.Credentials {
		stateStyle := lipgloss.NewStyle().Foreground(colorGreen)
		if c.State != "healthy" {
			stateStyle = lipgloss.NewStyle().Foreground(colorRed)
		}
		b.WriteString(fmt.Sprintf("  %s state=%s errors=%d\n", c.Fingerprint, stateStyle.Render(c.State), c.ErrorCount))
	}

	b.WriteString(header.Render("queues") + "\n")
	if len(snap.Queues) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, q := range snap.Queues {
		b.WriteString(fmt.Sprintf("  %s depth=%d processing=%v last_reason=%s\n", q.ContextID, q.QueueDepth, q.Processing, q.LastReason))
	}

	b.WriteString(header.Render("correlator") + "\n")
	b.WriteString(fmt.Sprintf("  %s %d\n", label.Render("pending"), snap.PendingCorrelation))

	b.WriteString(header.Render("group processing") + "\n")
	b.WriteString(fmt.Sprintf("  %v\n", snap.GroupProcessing))

	return strings.TrimRight(b.String(), "\n")
}
