package views

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"rampq/internal/ramp"
	"rampq/internal/report"
	"rampq/internal/tui/styles"
)

// ReportView shows a finished (or aborted) run in a scrollable panel.
type ReportView struct {
	Report   *ramp.Report
	Viewport viewport.Model

	Width  int
	Height int
}

func NewReportView(width, height int) ReportView {
	return ReportView{
		Viewport: viewport.New(width-4, height-4),
		Width:    width,
		Height:   height,
	}
}

func (m *ReportView) SetReport(r *ramp.Report) {
	m.Report = r
	if r != nil {
		m.Viewport.SetContent(report.RenderSummary(r))
		m.Viewport.GotoTop()
	}
}

func (m ReportView) Init() tea.Cmd {
	return nil
}

func (m ReportView) Update(msg tea.Msg) (ReportView, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Viewport.Width = msg.Width - 4
		m.Viewport.Height = msg.Height - 4
		if m.Report != nil {
			m.Viewport.SetContent(report.RenderSummary(m.Report))
		}
	}

	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

func (m ReportView) View() string {
	if m.Report == nil {
		return styles.Subtle.Render("\nNo report yet. Run a ramp first (Ctrl+R on the Setup tab).")
	}
	return m.Viewport.View()
}
