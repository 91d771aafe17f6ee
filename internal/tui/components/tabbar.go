package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

// Tab is one dashboard view.
type Tab struct {
	Name string
	Key  rune
}

// Tabs lists the dashboard views in display order.
var Tabs = []Tab{
	{Name: "Overview", Key: 'o'},
	{Name: "Calls", Key: 'c'},
	{Name: "Models", Key: 'm'},
}

// TabVisualWidth is the rendered width of tab.
func TabVisualWidth(tab Tab, active bool) int {
	w := lipgloss.Width(tab.Name) + 2
	if !active {
		w += 3 // "[k]"
	}
	return w
}

// RenderTabBar renders the tabs on one line, separated by a single column.
func RenderTabBar(activeIdx int) string {
	t := theme.Active

	activeStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Padding(0, 1)
	inactiveStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	keyStyle := lipgloss.NewStyle().Foreground(t.Accent)

	parts := make([]string, len(Tabs))
	for i, tab := range Tabs {
		if i == activeIdx {
			parts[i] = activeStyle.Render(tab.Name)
			continue
		}
		parts[i] = inactiveStyle.Render(" "+tab.Name) +
			keyStyle.Render("["+string(tab.Key)+"]") +
			inactiveStyle.Render(" ")
	}
	return strings.Join(parts, " ")
}

// TabIdxByKey returns the tab bound to key, or -1.
func TabIdxByKey(key rune) int {
	for i, tab := range Tabs {
		if tab.Key == key {
			return i
		}
	}
	return -1
}
