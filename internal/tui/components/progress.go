package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

// RatioBar renders a labeled bar for a 0-1 ratio such as the cache hit rate.
func RatioBar(label string, ratio float64, labelW, barWidth int) string {
	t := theme.Active
	ratio = min(max(ratio, 0), 1)

	bar := progress.New(
		progress.WithSolidFill(string(t.Accent)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	bar.EmptyColor = string(t.TextDim)

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	pctStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)

	return labelStyle.Render(fmt.Sprintf("%-*s", labelW, label)) + " " +
		bar.ViewAs(ratio) + " " +
		pctStyle.Render(fmt.Sprintf("%3.0f%%", ratio*100))
}
