package banner

import (
	"rampq/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
    ____                          ____
   / __ \____ _____ ___  ____    / __ \
  / /_/ / __ '/ __ '__ \/ __ \  / / / /
 / _, _/ /_/ / / / / / / /_/ / / /_/ /
/_/ |_|\__,_/_/ /_/ /_/ .___/  \___\_\
                     /_/               `

	return "\n" + style.Render(ascii) + "\n"
}
