package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette for espctl terminal output
var (
	PrimaryColor = lipgloss.Color("#2AA198") // teal: headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // lit LEDs, completed steps
	ErrorColor   = lipgloss.Color("#FF5555")
	WarningColor = lipgloss.Color("#FFA500") // countdown, running steps
	MutedColor   = lipgloss.Color("#626262")
	TextColor    = lipgloss.Color("#FFFFFF")
)

// Layout constants
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
	DefaultPadding   = 2
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// Shared styles
var (
	HeaderTitleStyle      = fg(TextColor).Bold(true).PaddingLeft(DefaultPadding)
	HeaderCommandStyle    = fg(MutedColor).PaddingLeft(DefaultPadding)
	HeaderParamKeyStyle   = fg(MutedColor).PaddingLeft(DefaultPadding)
	HeaderParamValueStyle = fg(TextColor)

	ProgressLabelStyle = fg(TextColor).PaddingLeft(DefaultPadding)
	StepCompleteStyle  = fg(SuccessColor)
	StepRunningStyle   = fg(WarningColor)
	StepPendingStyle   = fg(MutedColor)
	StepNoteStyle      = fg(MutedColor).Italic(true)

	SuccessTitleStyle = fg(SuccessColor).Bold(true)
	ErrorTitleStyle   = fg(ErrorColor).Bold(true)
	ErrorMessageStyle = fg(ErrorColor)

	// CountdownStyle renders "Rebooting in: N"
	CountdownStyle = fg(WarningColor).Bold(true)

	ResultKeyStyle   = fg(MutedColor).Width(15)
	ResultValueStyle = fg(TextColor)

	TroubleshootingTitleStyle = fg(MutedColor).Bold(true)
	TroubleshootingItemStyle  = fg(MutedColor)
)

// Status markers
const (
	StepMarkerComplete = "✓"
	StepMarkerRunning  = "●"
	StepMarkerPending  = "·"
	StepMarkerSkipped  = "⊘"
	SuccessMarker      = "✓"
	FailureMarker      = "✗"
	WarningMarker      = "⚠"
)

// GetTerminalWidth returns the stdout width clamped to
// [MinTerminalWidth, MaxContentWidth]; MinTerminalWidth when not a terminal.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth
	}
	return min(clampWidth(width), MaxContentWidth)
}

// IsTerminal reports whether stdout is attached to a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clampWidth(width int) int {
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// HeaderBorderStyle returns the border style for command headers
func HeaderBorderStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2) // Account for border characters
}

// ResultBoxStyle returns the double border box used by result boxes
func ResultBoxStyle(width int, color lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 2)
}

// TroubleshootingBoxStyle returns the border style for troubleshooting sections
func TroubleshootingBoxStyle(width int) lipgloss.Style {
	inner := width - 12
	if inner < 40 {
		inner = 40
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(inner).
		Padding(0, 1).
		MarginLeft(3)
}

// RenderHorizontalDivider repeats char width times in the primary color
func RenderHorizontalDivider(width int, char string) string {
	return fg(PrimaryColor).Render(strings.Repeat(char, width))
}
