package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/cli"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions, newest first",
	RunE:  runSessions,
}

var sessionsLimit int

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Number of sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(_ *cobra.Command, _ []string) error {
	db, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sessions, err := db.ListSessions(sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("\n  No sessions recorded yet. Start one with `ccmeter run -- claude`.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSIONS  (showing %d)", len(sessions))))
	fmt.Println()

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		start := ""
		if !s.StartTime.IsZero() {
			start = s.StartTime.Local().Format("Jan 02 15:04")
		}
		rows = append(rows, []string{
			start,
			cli.ShortID(s.SessionID),
			truncate(s.Cwd, 28),
			cli.FormatDuration(s.EndTime.Sub(s.StartTime)),
			cli.FormatNumber(int64(s.APICalls)),
			cli.FormatTokens(s.InputTokens + s.OutputTokens + s.CacheWriteTokens),
			cli.FormatCost(s.EstimatedCost),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Start", "ID", "Directory", "Duration", "Calls", "Tokens", "Cost"},
		Rows:    rows,
	}))
	return nil
}
