package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampq/internal/ramp"
	"rampq/internal/tui/components"
	"rampq/internal/tui/styles"
)

type LiveView struct {
	Snap     ramp.Snapshot
	Viewport viewport.Model
	Progress progress.Model
	Spark    components.Sparkline

	StartTime  time.Time
	LastUpdate time.Time

	Width  int
	Height int
}

func NewLiveView(width, height int) LiveView {
	prog := progress.New(
		progress.WithGradient("#7D56F4", "#04B575"),
		progress.WithWidth(width-10),
		progress.WithoutPercentage(),
	)

	vp := viewport.New(width-6, height-8)
	spark := components.NewSparkline(60, "Active Workflows", styles.Active)

	return LiveView{
		Viewport:   vp,
		Progress:   prog,
		Spark:      spark,
		StartTime:  time.Now(),
		LastUpdate: time.Now(),
		Width:      width,
		Height:     height,
	}
}

func (m LiveView) Init() tea.Cmd {
	return nil
}

func (m LiveView) Update(msg tea.Msg) (LiveView, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ramp.Snapshot:
		m.LastUpdate = time.Now()
		if msg.Level != m.Snap.Level {
			// New batch started, restart the graph.
			m.Spark.Reset()
		}
		m.Snap = msg
		m.Spark.Add(msg.Active)

		pct := 0.0
		if msg.Total > 0 {
			pct = float64(msg.Completed) / float64(msg.Total)
		}
		cmds = append(cmds, m.Progress.SetPercent(pct))

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 10
		m.Viewport.Width = msg.Width - 6
		m.Viewport.Height = msg.Height - 8

	case progress.FrameMsg:
		newModel, cmd := m.Progress.Update(msg)
		if newModel, ok := newModel.(progress.Model); ok {
			m.Progress = newModel
		}
		cmds = append(cmds, cmd)
	}

	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m LiveView) View() string {
	s := strings.Builder{}

	var elapsed time.Duration
	if !m.StartTime.IsZero() {
		elapsed = time.Since(m.StartTime)
	}

	batchLabel := "starting..."
	if m.Snap.TotalLevels > 0 {
		batchLabel = fmt.Sprintf("Batch %d/%d @ concurrency %d",
			m.Snap.LevelIndex+1, m.Snap.TotalLevels, m.Snap.Level)
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		styles.Title.Render("⚡ Ramp in Progress"),
		lipgloss.NewStyle().MarginLeft(2).Foreground(styles.ColorSubtle).Render(elapsed.Round(time.Second).String()),
		lipgloss.NewStyle().MarginLeft(4).Foreground(styles.ColorPrimary).Bold(true).Render("["+batchLabel+"]"),
	)
	s.WriteString(header)
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString("\n\n")

	// Row 1: batch progress
	doneVal := styles.Value.Render(fmt.Sprintf("%d / %d", m.Snap.Completed, m.Snap.Total))
	okVal := styles.Success.Render(fmt.Sprintf("%d", m.Snap.Successes))

	errColor := styles.Text
	if m.Snap.Failures > 0 {
		errColor = styles.Error
	}
	failVal := errColor.Render(fmt.Sprintf("%d", m.Snap.Failures))

	row1 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("Workflows Done", doneVal),
		MakeCard("Succeeded", okVal),
		MakeCard("Failed", failVal),
	)
	s.WriteString(row1)
	s.WriteString("\n")

	// Row 2: concurrency
	activeVal := styles.Active.Render(fmt.Sprintf("%d", m.Snap.Active))
	peakVal := styles.Text.Render(fmt.Sprintf("%d", m.Snap.Peak))
	levelVal := styles.Subtle.Render(fmt.Sprintf("%d", m.Snap.Level))

	row2 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("Executing Now", activeVal),
		MakeCard("Peak Executing", peakVal),
		MakeCard("Batch Size", levelVal),
	)
	s.WriteString(row2)
	s.WriteString("\n\n")

	s.WriteString(m.Spark.View())
	s.WriteString("\n")

	content := styles.Panel.Width(m.Width - 6).Render(s.String())
	m.Viewport.SetContent(content)

	return m.Viewport.View()
}

func MakeCard(title, value string) string {
	return styles.Box.Width(18).Align(lipgloss.Center).Render(
		fmt.Sprintf("%s\n%s", styles.Subtle.Render(title), value),
	)
}
