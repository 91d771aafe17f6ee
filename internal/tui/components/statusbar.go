package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

// RenderStatusBar renders the bottom bar: key hints on the left, right
// text (connection state) on the right.
func RenderStatusBar(width int, right string, failing bool) string {
	t := theme.Active

	left := " [?]help  [r]efresh  [q]uit"
	rightStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	if failing {
		rightStyle = rightStyle.Foreground(t.Orange)
	}
	right = rightStyle.Render(right + " ")

	padding := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return lipgloss.NewStyle().Foreground(t.TextMuted).Render(left) +
		strings.Repeat(" ", padding) + right
}
