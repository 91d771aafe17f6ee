package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/status"
	"github.com/theirongolddev/ccmeter/internal/tui"
	"github.com/theirongolddev/ccmeter/internal/tui/theme"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard for a running session",
	RunE:  runWatch,
}

var (
	flagWatchAddr     string
	flagWatchInterval time.Duration
)

func init() {
	watchCmd.Flags().StringVar(&flagWatchAddr, "addr", "", "Status address of the session (default from config)")
	watchCmd.Flags().DurationVar(&flagWatchInterval, "interval", 2*time.Second, "Poll interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	addr := flagWatchAddr
	if addr == "" {
		addr = cfg.Status.Listen
	}
	if flagWatchInterval < 250*time.Millisecond {
		flagWatchInterval = 250 * time.Millisecond
	}

	// Force TrueColor so themed hex colors render even when the terminal
	// detection guesses lower.
	lipgloss.SetColorProfile(termenv.TrueColor)
	theme.SetActive(cfg.Appearance.Theme)

	app := tui.NewApp(status.NewClient(addr), addr, flagWatchInterval)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
