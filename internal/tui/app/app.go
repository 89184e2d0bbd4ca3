package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rampq/internal/config"
	"rampq/internal/monitor"
	"rampq/internal/ramp"
	"rampq/internal/report"
	"rampq/internal/storage"
	"rampq/internal/tui/styles"
	"rampq/internal/tui/views"
	"rampq/internal/workflow"
)

type ClearStatusMsg struct{}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(_ time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

// View Enum
type ViewID int

const (
	ViewSetup ViewID = iota
	ViewLive
	ViewReport
	ViewHistory
)

type SnapMsg ramp.Snapshot

type RunDoneMsg struct {
	Report *ramp.Report
	Err    error
}

type Model struct {
	Store *storage.Store

	// Core State
	RunActive bool
	RunCancel context.CancelFunc
	Updates   ramp.UpdateChan
	doneCh    chan RunDoneMsg

	// Layout
	Width  int
	Height int

	CurrentView ViewID
	MenuItems   []string

	SetupView   views.SetupView
	LiveView    views.LiveView
	ReportView  views.ReportView
	HistoryView views.HistoryView

	// Feedback
	StatusMsg string
}

func NewModel(cfg config.File) Model {
	store, err := storage.NewStore()
	if err != nil {
		store = nil
	}

	return Model{
		Store:       store,
		CurrentView: ViewSetup,
		MenuItems:   []string{"[1] Setup", "[2] Live", "[3] Report", "[4] History"},
		SetupView:   views.NewSetupView(cfg),
		ReportView:  views.NewReportView(80, 24),
		HistoryView: views.NewHistoryView(store),
	}
}

func (m Model) Init() tea.Cmd {
	return m.SetupView.Init()
}

func waitForUpdate(updates ramp.UpdateChan, done chan RunDoneMsg) tea.Cmd {
	return func() tea.Msg {
		select {
		case snap := <-updates:
			return SnapMsg(snap)
		case msg := <-done:
			return msg
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ClearStatusMsg:
		m.StatusMsg = ""
		return m, nil

	case tea.KeyMsg:
		// 1. GLOBAL NAVIGATION & CONTROL
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			if m.RunCancel != nil {
				m.RunCancel()
			}
			if m.Store != nil {
				m.Store.Close()
			}
			return m, tea.Quit

		case "ctrl+h":
			m.HistoryView.Refresh()
			m.CurrentView = ViewHistory
			return m, nil

		case "ctrl+right":
			m.CurrentView++
			if m.CurrentView > ViewHistory {
				m.CurrentView = ViewSetup
			}
			return m, nil
		case "ctrl+left":
			m.CurrentView--
			if m.CurrentView < ViewSetup {
				m.CurrentView = ViewHistory
			}
			return m, nil

		// 2. ACTIONS
		case "ctrl+r":
			if m.CurrentView == ViewSetup && !m.RunActive {
				cfg := m.SetupView.GetConfig()
				if err := cfg.Validate(); err != nil {
					m.StatusMsg = fmt.Sprintf("Invalid config: %v", err)
					return m, clearStatusCmd()
				}
				cmd, err := m.startRun(cfg)
				if err != nil {
					m.StatusMsg = err.Error()
					return m, clearStatusCmd()
				}
				return m, cmd
			}
			return m, nil

		case "ctrl+s":
			if m.RunActive && m.RunCancel != nil {
				// In-flight batch finishes; the run stops before the
				// next level and delivers its partial report.
				m.RunCancel()
				m.StatusMsg = "Stopping after current batch..."
				return m, clearStatusCmd()
			}
			return m, nil

		case "ctrl+p":
			return m.handleExport()
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		contentHeight := m.Height - 7

		m.SetupView.Width = m.Width
		m.SetupView.Height = contentHeight

		updatedLive, _ := m.LiveView.Update(msg)
		m.LiveView = updatedLive
		updatedReport, _ := m.ReportView.Update(msg)
		m.ReportView = updatedReport
		updatedHist, _ := m.HistoryView.Update(msg)
		m.HistoryView = updatedHist

	case SnapMsg:
		snap := ramp.Snapshot(msg)
		updatedLive, c := m.LiveView.Update(snap)
		m.LiveView = updatedLive
		cmds = append(cmds, c)
		cmds = append(cmds, waitForUpdate(m.Updates, m.doneCh))

	case RunDoneMsg:
		m.RunActive = false
		if m.RunCancel != nil {
			m.RunCancel()
			m.RunCancel = nil
		}

		if msg.Report != nil {
			m.ReportView.SetReport(msg.Report)
			m.saveHistory(msg.Report)
			m.CurrentView = ViewReport
			if msg.Report.Aborted != "" {
				m.StatusMsg = "Run aborted: " + msg.Report.Aborted
				cmds = append(cmds, clearStatusCmd())
			}
		} else if msg.Err != nil {
			m.StatusMsg = fmt.Sprintf("Run failed: %v", msg.Err)
			m.CurrentView = ViewSetup
			cmds = append(cmds, clearStatusCmd())
		}
	}

	// DEFAULT: forward everything else to the active view. This keeps
	// Bubbles internals (blink, progress frames, table cursor) alive.
	var defaultCmd tea.Cmd
	switch m.CurrentView {
	case ViewSetup:
		m.SetupView, defaultCmd = m.SetupView.Update(msg)
	case ViewLive:
		m.LiveView, defaultCmd = m.LiveView.Update(msg)
	case ViewReport:
		m.ReportView, defaultCmd = m.ReportView.Update(msg)
	case ViewHistory:
		m.HistoryView, defaultCmd = m.HistoryView.Update(msg)
		if m.HistoryView.SelectedReport != nil {
			m.ReportView.SetReport(m.HistoryView.SelectedReport)
			m.HistoryView.SelectedReport = nil
			m.CurrentView = ViewReport
		}
	}
	cmds = append(cmds, defaultCmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) startRun(cfg config.File) (tea.Cmd, error) {
	var payload *workflow.PayloadSource
	if cfg.PayloadPath != "" {
		p, err := workflow.LoadPayloadFile(cfg.PayloadPath)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		payload = p
	} else {
		payload = workflow.NewPayloadSource()
	}

	log := logrus.New()
	log.SetOutput(io.Discard) // the TUI owns the terminal

	client := workflow.NewClient(cfg.Endpoints, payload, log)
	mon := monitor.New(cfg.Strategy.AlertThreshold, log)

	m.Updates = make(ramp.UpdateChan, 100)
	m.doneCh = make(chan RunDoneMsg, 1)

	ctrl := ramp.NewController(client, cfg.Strategy, mon, log, m.Updates)

	ctx, cancel := context.WithCancel(context.Background())
	m.RunCancel = cancel
	m.RunActive = true

	go func() {
		r, err := ctrl.Run(ctx)
		m.doneCh <- RunDoneMsg{Report: r, Err: err}
	}()

	m.LiveView = views.NewLiveView(m.Width, m.Height-7)
	m.CurrentView = ViewLive

	return waitForUpdate(m.Updates, m.doneCh), nil
}

func (m Model) handleExport() (tea.Model, tea.Cmd) {
	var r *ramp.Report
	var base string

	switch m.CurrentView {
	case ViewReport:
		r = m.ReportView.Report
		base = fmt.Sprintf("rampq_report_%s", time.Now().Format("20060102-150405"))
	case ViewHistory:
		if item := m.HistoryView.GetSelectedItem(); item != nil {
			rep := item.Report
			r = &rep
			base = fmt.Sprintf("rampq_history_%s", item.ID[:8])
		}
	default:
		return m, nil
	}

	if r == nil {
		m.StatusMsg = "Nothing to export yet."
		return m, clearStatusCmd()
	}

	if err := report.ExportAll(r, base); err != nil {
		m.StatusMsg = fmt.Sprintf("Export failed: %v", err)
	} else {
		m.StatusMsg = fmt.Sprintf("Exported to %s.{json,csv,md}", base)
	}
	return m, clearStatusCmd()
}

func (m *Model) saveHistory(r *ramp.Report) {
	if m.Store == nil {
		return
	}
	item := storage.HistoryItem{
		ID:        uuid.New().String(),
		Timestamp: r.Timestamp,
		Strategy:  r.Strategy.Name,
		Report:    *r,
	}
	if err := m.Store.Save(item); err != nil {
		m.StatusMsg = fmt.Sprintf("Error saving history: %v", err)
	}
	m.HistoryView.Refresh()
}

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	nav := strings.Builder{}
	for i, item := range m.MenuItems {
		if ViewID(i) == m.CurrentView {
			nav.WriteString(styles.TabActive.Render(item))
		} else {
			nav.WriteString(styles.TabBase.Render(item))
		}
	}
	navBar := styles.FooterBase.Width(m.Width).Render(nav.String())

	contentStr := ""
	switch m.CurrentView {
	case ViewSetup:
		contentStr = m.SetupView.View()
	case ViewLive:
		contentStr = m.LiveView.View()
	case ViewReport:
		contentStr = m.ReportView.View()
	case ViewHistory:
		contentStr = m.HistoryView.View()
	}

	content := styles.Panel.Width(m.Width - 2).Height(m.Height - 6).Render(contentStr)

	keys1 := []string{
		styles.RenderKey("Ctrl+<->", "View"),
		styles.RenderKey("Tab", "Field"),
		styles.RenderKey("Enter", "Next/Select"),
	}
	keys2 := []string{
		styles.RenderKey("Ctrl+R", "Run"),
		styles.RenderKey("Ctrl+S", "Stop"),
		styles.RenderKey("Ctrl+P", "Export"),
		styles.RenderKey("Ctrl+Q", "Quit"),
	}
	keys3 := []string{
		styles.RenderKey("Ctrl+H", "History"),
	}

	helpRow1 := styles.FooterBase.Width(m.Width).Render(strings.Join(keys1, "   "))
	helpRow2 := styles.FooterBase.Width(m.Width).Render(strings.Join(keys2, "   "))
	helpRow3 := styles.FooterBase.Width(m.Width).Render(strings.Join(keys3, "   "))

	footer := lipgloss.JoinVertical(lipgloss.Left, helpRow1, helpRow2, helpRow3)

	if m.StatusMsg != "" {
		status := styles.Box.BorderForeground(styles.ColorHighlight).Render(m.StatusMsg)
		return lipgloss.JoinVertical(lipgloss.Left, navBar, content, status, footer)
	}

	return lipgloss.JoinVertical(lipgloss.Left, navBar, content, footer)
}
