// Package status renders the viewer's top bar.
package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/glyphcast/glyphcast/internal/viewer/theme"
	"github.com/glyphcast/glyphcast/internal/ws"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Server    string
	Status    ws.StatusPayload
	FPS       float64
	Width     int
}

// New creates a status bar model for the given server address.
func New(server string) Model {
	return Model{Server: server}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	parts := []string{connStr}
	if s := m.Status.Session; s != nil {
		state := s.State.String()
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.StateColor(state)).
			Render(theme.StateGlyph(state)+" "+truncate(s.URL, 40)))
		if m.FPS > 0 {
			parts = append(parts, fmt.Sprintf("%.1f fps", m.FPS))
		}
	} else {
		parts = append(parts, theme.StyleDimmed.Render("idle"))
	}
	parts = append(parts, fmt.Sprintf("%d watching", m.Status.Viewers))
	if m.Status.CooldownRemaining > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorWarning).
			Render(fmt.Sprintf("cooldown %.1fs", m.Status.CooldownRemaining)))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(parts, sep))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
