// Package styles holds the shared lipgloss palette and building blocks
// for the terminal UI. Views compose these instead of declaring colors
// inline so the whole app shifts together when the palette changes.
package styles

import "github.com/charmbracelet/lipgloss"

// Palette, tuned for dark terminals. Primary and secondary also feed the
// live view's progress gradient.
var (
	ColorPrimary   = lipgloss.Color("#7D56F4")
	ColorSecondary = lipgloss.Color("#04B575")
	ColorBanner    = lipgloss.Color("#7D56F4")

	ColorError   = lipgloss.Color("#FF5F87")
	ColorWarning = lipgloss.Color("#FFB454")

	ColorText      = lipgloss.Color("#F2F2F2")
	ColorSubtle    = lipgloss.Color("#8A8A8A")
	ColorBorder    = lipgloss.Color("#444444")
	ColorBg        = lipgloss.Color("#14141A")
	ColorHighlight = lipgloss.Color("#3A3A46")
)

// Containers.
var (
	// Panel frames the active view.
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(1, 2)

	// Box is the small card used for metric tiles and status overlays.
	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1).
		Margin(0, 1)
)

// Text roles.
var (
	Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 1).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(ColorSubtle)

	Text   = lipgloss.NewStyle().Foreground(ColorText)
	Subtle = lipgloss.NewStyle().Foreground(ColorSubtle)

	Value  = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	Active = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	Success = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	Warn    = lipgloss.NewStyle().Foreground(ColorWarning)
	Error   = lipgloss.NewStyle().Foreground(ColorError)
)

// Form inputs. The active field gets the thick border.
var (
	InputActive = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1)

	InputNormal = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// Navigation and footer.
var (
	TabBase = lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Padding(0, 2)

	TabActive = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(ColorPrimary).
			Padding(0, 2)

	FooterBase = lipgloss.NewStyle().
			Height(1).
			Padding(0, 1)

	KeyKey  = lipgloss.NewStyle().Foreground(ColorText).Bold(true)
	KeyDesc = lipgloss.NewStyle().Foreground(ColorSubtle)
)

// RenderKey formats one "<key> description" pair for the help footer.
func RenderKey(key, desc string) string {
	return lipgloss.JoinHorizontal(lipgloss.Center,
		KeyKey.Render("<"+key+">"),
		" ",
		KeyDesc.Render(desc),
	)
}
