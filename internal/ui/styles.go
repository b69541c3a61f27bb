package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("39")  // Cyan
	ColorSecondary = lipgloss.Color("212") // Pink
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorMuted     = lipgloss.Color("245") // Gray
	ColorHighlight = lipgloss.Color("226") // Yellow
)

// Styles for various UI elements
var (
	// Text styles
	Bold      = lipgloss.NewStyle().Bold(true)
	Dim       = lipgloss.NewStyle().Foreground(ColorMuted)
	Highlight = lipgloss.NewStyle().Foreground(ColorHighlight)
	Header    = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	// Status styles
	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Error   = lipgloss.NewStyle().Foreground(ColorError)

	// Code styles
	FilePath = lipgloss.NewStyle().Foreground(ColorPrimary)
	LineNum  = lipgloss.NewStyle().Foreground(ColorMuted)

	// Search result styles
	ResultScore = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// Section styles
	SectionTitle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true).
			MarginTop(1)
	Divider = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// Progress styles
	PhaseLabel = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Width(6)
	BarFilled = lipgloss.NewStyle().Foreground(ColorPrimary)
	BarEmpty  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// HorizontalRule returns a styled horizontal divider.
func HorizontalRule(width int) string {
	return Divider.Render(strings.Repeat("─", width))
}

// FormatFilePath formats a file path with line numbers.
func FormatFilePath(path string, startLine, endLine int) string {
	return FilePath.Render(path) + LineNum.Render(fmt.Sprintf(":%d-%d", startLine, endLine))
}

// FormatScore formats a similarity score as a percentage.
func FormatScore(score float64) string {
	return ResultScore.Render(fmt.Sprintf("(%.1f%% match)", score*100))
}

// ProgressBar renders current/total as a bar of the given width. A zero total
// renders an empty bar.
func ProgressBar(current, total, width int) string {
	filled := 0
	if total > 0 {
		filled = min(current*width/total, width)
	}
	return BarFilled.Render(strings.Repeat("█", filled)) +
		BarEmpty.Render(strings.Repeat("░", width-filled))
}

// FormatProgress renders one progress line for a build phase.
func FormatProgress(phase string, current, total int, file string) string {
	if total <= 0 {
		return fmt.Sprintf("%s %d %s", PhaseLabel.Render(phase), current, Dim.Render(file))
	}
	return fmt.Sprintf("%s %s %d/%d %s",
		PhaseLabel.Render(phase), ProgressBar(current, total, 24), current, total, Dim.Render(file))
}
