// Package theme provides the Lip Gloss colors and reusable styles for the
// terminal viewer. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorStarting = lipgloss.Color("#7c3aed")
	ColorActive   = lipgloss.Color("#16a34a")
	ColorStopped  = lipgloss.Color("#4b5563")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#5eead4")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#2563eb")
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "starting":
		return ColorStarting
	case "active":
		return ColorActive
	case "stopped":
		return ColorStopped
	default:
		return ColorDimmed
	}
}

// StateGlyph returns a marker for a session state name.
func StateGlyph(state string) string {
	switch state {
	case "starting":
		return "◎"
	case "active":
		return "●"
	case "stopped":
		return "○"
	default:
		return "·"
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
