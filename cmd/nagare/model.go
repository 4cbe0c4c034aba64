package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashita-ai/nagare"
)

// runsMsg carries a fresh run list snapshot from the engine.
type runsMsg []nagare.Run

// connMsg carries a connectivity change from the engine.
type connMsg nagare.Connectivity

// tickMsg refreshes relative durations once a second even when no events
// arrive.
type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForUpdate returns a command that blocks on the engine update channel.
func waitForUpdate(updates <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

// tailModel is the Bubble Tea model for the live dashboard.
type tailModel struct {
	eng     *nagare.Engine
	updates <-chan tea.Msg

	runs     []nagare.Run
	conn     nagare.Connectivity
	selected int

	width  int
	height int
}

func newTailModel(eng *nagare.Engine, updates <-chan tea.Msg) tailModel {
	return tailModel{
		eng:     eng,
		updates: updates,
		runs:    eng.Runs(),
		conn:    eng.Connectivity(),
	}
}

// Init implements tea.Model.
func (m tailModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

// Update implements tea.Model.
func (m tailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case runsMsg:
		m.runs = msg
		m.clampSelection()
		return m, waitForUpdate(m.updates)
	case connMsg:
		m.conn = nagare.Connectivity(msg)
		return m, waitForUpdate(m.updates)
	case tickMsg:
		return m, tickCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.runs)-1 {
				m.selected++
			}
		}
	}
	return m, nil
}

func (m *tailModel) clampSelection() {
	if m.selected >= len(m.runs) {
		m.selected = len(m.runs) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	rowStyle    = lipgloss.NewStyle().Padding(0, 1)
	selStyle    = rowStyle.Reverse(true)
	dimStyle    = lipgloss.NewStyle().Faint(true).Padding(0, 1)

	statusColors = map[nagare.Status]lipgloss.Style{
		nagare.StatusQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		nagare.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		nagare.StatusWaiting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		nagare.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		nagare.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// View implements tea.Model.
func (m tailModel) View() string {
	var b strings.Builder

	badge := onlineStyle.Render("● connected")
	if m.conn.State != nagare.ConnConnected {
		badge = offStyle.Render(fmt.Sprintf("○ disconnected (attempt %d)", m.conn.ReconnectAttempt))
	}
	b.WriteString(titleStyle.Render("nagare") + "  " + badge + "\n\n")

	if len(m.runs) == 0 {
		b.WriteString(dimStyle.Render("no runs yet") + "\n")
		return b.String()
	}

	for i, run := range m.runs {
		line := fmt.Sprintf("%-24s %-10s %s %-9s %2d steps  %s",
			truncate(run.ID, 24),
			run.Type,
			statusGlyph(run.Status),
			run.Status,
			len(run.Steps),
			formatDuration(run),
		)
		if i == m.selected {
			b.WriteString(selStyle.Render(line) + "\n")
		} else {
			b.WriteString(rowStyle.Render(line) + "\n")
		}
	}

	if m.selected < len(m.runs) {
		b.WriteString("\n" + m.viewSteps(m.runs[m.selected]))
	}
	b.WriteString("\n" + dimStyle.Render("↑/↓ select · q quit"))
	return b.String()
}

func (m tailModel) viewSteps(run nagare.Run) string {
	if len(run.Steps) == 0 {
		return dimStyle.Render("no steps")
	}
	var b strings.Builder
	for _, step := range run.Steps {
		tool := step.ToolUsed
		if tool == "" {
			tool = "-"
		}
		b.WriteString(rowStyle.Render(fmt.Sprintf("  %s %-9s %-28s %s",
			statusGlyph(step.Status), step.Status, truncate(step.Name, 28), tool)) + "\n")
	}
	return b.String()
}

func statusGlyph(s nagare.Status) string {
	glyph := "·"
	switch s {
	case nagare.StatusRunning:
		glyph = "▶"
	case nagare.StatusWaiting:
		glyph = "⏸"
	case nagare.StatusCompleted:
		glyph = "✓"
	case nagare.StatusFailed:
		glyph = "✗"
	}
	if style, ok := statusColors[s]; ok {
		return style.Render(glyph)
	}
	return glyph
}

func formatDuration(run nagare.Run) string {
	if run.DurationMs > 0 {
		return (time.Duration(run.DurationMs) * time.Millisecond).String()
	}
	if run.Status == nagare.StatusRunning || run.Status == nagare.StatusWaiting {
		return time.Since(run.StartedAt).Truncate(time.Second).String()
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
