// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	AccentColor  = lipgloss.Color("#C9A227") // Ledger gold
	MatchedColor = lipgloss.Color("#4ECDC4")
	MissingColor = lipgloss.Color("#FF6B6B")
	PendingColor = lipgloss.Color("#FFE66D")
	NoteColor    = lipgloss.Color("#95E1D3")
	MutedColor   = lipgloss.Color("#666666")
)

var (
	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor).
			MarginBottom(1)

	// SuccessStyle formats completed work and matched occurrences.
	SuccessStyle = lipgloss.NewStyle().Foreground(MatchedColor)

	// WarningStyle formats placeholders and skipped input.
	WarningStyle = lipgloss.NewStyle().Foreground(PendingColor)

	// ErrorStyle formats failures and missing occurrences.
	ErrorStyle = lipgloss.NewStyle().Foreground(MissingColor)

	// InfoStyle formats summaries.
	InfoStyle = lipgloss.NewStyle().Foreground(NoteColor)

	// SubtleStyle formats secondary detail such as wrapped causes.
	SubtleStyle = lipgloss.NewStyle().Foreground(MutedColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().Bold(true)

	// BoxStyle frames summaries such as loan totals.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 2)

	// PromptStyle is used for confirmation prompts.
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	LedgerIcon  = "📒"
	ChartIcon   = "📊"
	FolderIcon  = "🗄️"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the ledger icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(LedgerIcon + " " + title)
}

// FormatPrompt formats a prompt message.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content under a title in a rounded box.
func RenderBox(title, content string) string {
	heading := TitleStyle.UnsetMargins().Render(title)
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, content))
}

// StyleTitle formats text as a title without an icon.
func StyleTitle(text string) string {
	return TitleStyle.Render(text)
}

// StyleInfo formats text as an info message without an icon.
func StyleInfo(text string) string {
	return InfoStyle.Render(text)
}
