// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Output styles. stdout carries only worker output and results, so styling
// is limited to stderr diagnostics and help text.
var (
	// TitleStyle renders the program name in help text.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))

	// SubtitleStyle renders help headings, hints and transfer notes.
	SubtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	// SuccessStyle renders confirmations such as a written config file.
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))

	// ErrorStyle prefixes command failures and uncaught worker errors.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))

	// WarningStyle prefixes messages that could not be decoded.
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))

	// PromptStyle renders the REPL prompt.
	PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)
