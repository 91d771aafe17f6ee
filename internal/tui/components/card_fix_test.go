package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

func init() {
	lipgloss.SetColorProfile(termenv.TrueColor)
}

func TestLayoutRowSumsToTotal(t *testing.T) {
	for _, n := range []int{1, 3, 4, 7} {
		widths := LayoutRow(100, n)
		sum := 0
		for _, w := range widths {
			sum += w
		}
		if sum != 100 {
			t.Errorf("LayoutRow(100, %d) sums to %d", n, sum)
		}
	}
	if LayoutRow(10, 0) != nil {
		t.Error("LayoutRow with n=0 should be nil")
	}
}

func TestMetricCardRowWidth(t *testing.T) {
	theme.SetActive("flexoki-dark")

	row := MetricCardRow([]Metric{
		{Label: "Turns", Value: "12"},
		{Label: "Cost", Value: "$1.20", Note: "last $0.04"},
		{Label: "Cache", Value: "81%"},
	}, 90)

	for i, line := range strings.Split(row, "\n") {
		if w := lipgloss.Width(line); w != 90 {
			t.Errorf("line %d width = %d, want 90", i, w)
		}
	}
}

func TestSparklineKeepsTail(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	defer lipgloss.SetColorProfile(termenv.TrueColor)

	got := Sparkline([]float64{9, 9, 0, 1, 2}, 3, theme.Active.Green)
	if got != "▁▄█" {
		t.Errorf("Sparkline = %q, want %q", got, "▁▄█")
	}
	if Sparkline(nil, 5, theme.Active.Green) != "" {
		t.Error("empty Sparkline rendered output")
	}
}

func TestShareBar(t *testing.T) {
	bar := ShareBar(0.5, 10, theme.Active.Blue)
	if w := lipgloss.Width(bar); w != 10 {
		t.Errorf("ShareBar width = %d, want 10", w)
	}
}

func TestTabIdxByKey(t *testing.T) {
	if got := TabIdxByKey('c'); got != 1 {
		t.Errorf("TabIdxByKey('c') = %d, want 1", got)
	}
	if got := TabIdxByKey('z'); got != -1 {
		t.Errorf("TabIdxByKey('z') = %d, want -1", got)
	}
}

func TestTabBarWidthMatchesVisualWidths(t *testing.T) {
	for active := range Tabs {
		want := len(Tabs) - 1
		for i, tab := range Tabs {
			want += TabVisualWidth(tab, i == active)
		}
		if got := lipgloss.Width(RenderTabBar(active)); got != want {
			t.Errorf("active=%d: bar width %d, want %d", active, got, want)
		}
	}
}
