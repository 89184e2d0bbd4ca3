package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rampq/internal/ramp"
	"rampq/internal/storage"
	"rampq/internal/tui/styles"
)

type HistoryView struct {
	Store *storage.Store
	Table table.Model

	items []storage.HistoryItem

	// Set when the user picks a run; the parent grabs it and clears it.
	SelectedReport *ramp.Report

	Width  int
	Height int
}

func NewHistoryView(store *storage.Store) HistoryView {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Strategy", Width: 14},
		{Title: "Batches", Width: 9},
		{Title: "Tests", Width: 8},
		{Title: "Success %", Width: 11},
		{Title: "Max Conc", Width: 10},
		{Title: "Aborted", Width: 20},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)

	s.Selected = s.Selected.
		Foreground(styles.ColorBg).
		Background(styles.ColorPrimary).
		Bold(true)

	t.SetStyles(s)

	m := HistoryView{
		Store: store,
		Table: t,
	}
	m.Refresh()
	return m
}

func (m *HistoryView) Refresh() {
	if m.Store == nil {
		return
	}

	m.items = m.Store.List() // newest first
	rows := make([]table.Row, len(m.items))
	for i, item := range m.items {
		s := item.Report.Summary
		rows[i] = table.Row{
			item.Timestamp.Format("2006-01-02 15:04:05"),
			item.Strategy,
			fmt.Sprintf("%d", s.TotalBatches),
			fmt.Sprintf("%d", s.TotalTests),
			fmt.Sprintf("%.1f", s.AverageSuccessRate*100),
			fmt.Sprintf("%d", s.MaxConcurrencyTested),
			item.Report.Aborted,
		}
	}
	m.Table.SetRows(rows)
}

func (m HistoryView) Init() tea.Cmd {
	return nil
}

func (m HistoryView) Update(msg tea.Msg) (HistoryView, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		m.Table.SetHeight(msg.Height - 6)
		m.Refresh()

	case tea.KeyMsg:
		if msg.String() == "enter" {
			if item := m.GetSelectedItem(); item != nil {
				r := item.Report
				m.SelectedReport = &r
				return m, nil
			}
		}
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m HistoryView) View() string {
	s := strings.Builder{}
	s.WriteString(styles.Title.Render("📜 Past Runs"))
	s.WriteString("\n\n")

	if len(m.Table.Rows()) == 0 {
		s.WriteString(styles.Subtle.Render("No history found.\nRun a ramp to generate data."))
	} else {
		s.WriteString(styles.Box.Render(m.Table.View()))
	}
	s.WriteString("\n\n")
	s.WriteString(styles.Subtle.Render("[Enter] View Report  [Ctrl+P] Export Selected"))
	return s.String()
}

func (m HistoryView) GetSelectedItem() *storage.HistoryItem {
	idx := m.Table.Cursor()
	if idx >= 0 && idx < len(m.items) {
		return &m.items[idx]
	}
	return nil
}
