package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase is what the user must type to confirm
const ConfirmPhrase = "yes"

// Confirm displays a warning box on out and reads one line from in. It
// returns true only if the line is ConfirmPhrase.
func Confirm(in io.Reader, out io.Writer, title string, warnings []string) bool {
	width := GetTerminalWidth()

	lines := []string{
		"",
		lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true).
			Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)),
		"",
	}
	bullet := lipgloss.NewStyle().Foreground(TextColor)
	for _, w := range warnings {
		lines = append(lines, bullet.Render("   • "+w))
	}
	lines = append(lines, "")

	_, _ = fmt.Fprintln(out, ResultBoxStyle(width, WarningColor).Render(strings.Join(lines, "\n")))
	_, _ = fmt.Fprintln(out)

	prompt := lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	_, _ = fmt.Fprint(out, prompt.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", ConfirmPhrase)))

	input, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(input), ConfirmPhrase) {
		return true
	}

	_, _ = fmt.Fprintln(out, lipgloss.NewStyle().Foreground(MutedColor).Render("  Operation cancelled."))
	return false
}

// WiFiChangeConfirmation asks before new station credentials are written
func WiFiChangeConfirmation(in io.Reader, out io.Writer, ssid string) bool {
	return Confirm(in, out,
		"CHANGE DEVICE WIFI",
		[]string{
			fmt.Sprintf("The device will join %q on its next connection attempt", ssid),
			"If the credentials are wrong the device drops off this network",
			"Recovering then requires the device's access point or a serial console",
		},
	)
}
