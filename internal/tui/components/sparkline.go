package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", " ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline renders a scrolling one-line graph of recent samples.
// Used for the active-task count while a batch runs.
type Sparkline struct {
	Data  []int
	Width int
	Max   int
	Style lipgloss.Style
	Label string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]int, 0, width),
	}
}

func (s *Sparkline) Add(val int) {
	s.Data = append(s.Data, val)
	if len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}

	// Max over the visible window, so old spikes scroll away.
	max := 0
	for _, v := range s.Data {
		if v > max {
			max = v
		}
	}
	s.Max = max
}

func (s *Sparkline) Reset() {
	s.Data = s.Data[:0]
	s.Max = 0
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}

	out := strings.Builder{}
	out.WriteString(s.Style.Render(s.Label))
	out.WriteString("\n")

	var graph strings.Builder
	for _, v := range s.Data {
		if s.Max == 0 {
			graph.WriteString(levels[0])
			continue
		}

		pct := float64(v) / float64(s.Max)
		idx := int(pct * float64(len(levels)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}

		graph.WriteString(levels[idx])
	}

	pad := s.Width - len(s.Data)
	if pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}

	return out.String() + s.Style.Render(graph.String())
}
