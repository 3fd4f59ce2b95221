// Package ui holds the terminal styles shared by the lore commands.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Accent highlights identifiers such as asset names and commit ids.
	Accent = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)

	// Success marks completed operations.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	// Warn marks degraded but non-fatal outcomes, like a failed remote
	// push.
	Warn = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	// Error marks failures written to stderr.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Muted de-emphasizes secondary detail such as timestamps and
	// paths.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	// Header styles section titles in status output.
	Header = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Score renders a search relevance score with an intensity matching
// its magnitude.
func Score(formatted string, score float64) string {
	switch {
	case score >= 0.75:
		return Success.Render(formatted)
	case score >= 0.4:
		return Warn.Render(formatted)
	default:
		return Muted.Render(formatted)
	}
}
