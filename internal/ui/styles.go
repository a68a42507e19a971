package ui

import "github.com/charmbracelet/lipgloss"

const (
	primaryColor   = "#7C3AED" // Purple
	secondaryColor = "#10B981" // Green
	warningColor   = "#F59E0B" // Amber
	errorColor     = "#EF4444" // Red
	dimColor       = "#6B7280" // Gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(primaryColor)).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(dimColor))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(secondaryColor))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(warningColor))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(errorColor))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return successStyle
	case "running", "starting":
		return warningStyle
	case "error":
		return errorStyle
	default:
		return dimStyle
	}
}

func teammateIcon(status string) string {
	switch status {
	case "working":
		return warningStyle.Render("●")
	case "idle":
		return dimStyle.Render("○")
	case "stopped":
		return successStyle.Render("✓")
	default:
		return dimStyle.Render("·")
	}
}
