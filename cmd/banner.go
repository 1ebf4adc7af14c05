package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// printBanner writes the startup banner. It is the only output visible in
// the terminal during normal operation; all structured logs go to the log
// file instead.
func printBanner(w io.Writer, version, serverURL, source, logFile string) {
	lipgloss.SetColorProfile(termenv.EnvColorProfile())

	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	label := lipgloss.NewStyle().Width(8).Foreground(lipgloss.Color("241"))
	link := lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("#04B575"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 2)

	body := lipgloss.JoinVertical(lipgloss.Left,
		title.Render("Pendulum "+version),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, label.Render("Visit"), link.Render(serverURL)),
		lipgloss.JoinHorizontal(lipgloss.Top, label.Render("Assets"), source),
		lipgloss.JoinHorizontal(lipgloss.Top, label.Render("Logs"), logFile),
	)
	_, _ = fmt.Fprintln(w, box.Render(body))
}
