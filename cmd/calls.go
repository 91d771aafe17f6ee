package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/cli"
	"github.com/theirongolddev/ccmeter/internal/store"
)

var callsCmd = &cobra.Command{
	Use:   "calls <session-id>",
	Short: "Per-call detail for one session",
	Long:  "Show every recorded call of a session. Any unique prefix of the session ID works.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCalls,
}

func init() {
	rootCmd.AddCommand(callsCmd)
}

func runCalls(_ *cobra.Command, args []string) error {
	db, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	id, err := db.ResolveSession(args[0])
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("no session matches %q", args[0])
	case errors.Is(err, store.ErrAmbiguous):
		return fmt.Errorf("%q matches more than one session; use a longer prefix", args[0])
	case err != nil:
		return err
	}

	calls, err := db.ListCalls(id)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSION %s  %d calls", cli.ShortID(id), len(calls))))
	fmt.Println()
	if len(calls) == 0 {
		fmt.Println("  No calls recorded.")
		return nil
	}

	var total float64
	costs := make([]float64, 0, len(calls))
	rows := make([][]string, 0, len(calls)+2)
	partial := 0
	for _, c := range calls {
		stop := c.StopReason
		if c.ErrorType != "" {
			stop = "error: " + c.ErrorType
		}
		if c.Partial {
			stop += " (partial)"
			partial++
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", c.Turn),
			c.Timestamp.Local().Format("15:04:05"),
			truncate(c.Model, 22),
			cli.FormatTokens(c.InputTokens),
			cli.FormatTokens(c.OutputTokens),
			cli.FormatTokens(c.CacheReadTokens),
			cli.FormatDuration(c.Duration),
			cli.FormatCost(c.EstimatedCost),
			truncate(stop, 20),
		})
		total += c.EstimatedCost
		costs = append(costs, c.EstimatedCost)
	}
	rows = append(rows, []string{"---"}, []string{"", "", "total", "", "", "", "", cli.FormatCost(total), ""})

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Turn", "Time", "Model", "In", "Out", "Cache Rd", "Took", "Cost", "Stop"},
		Rows:    rows,
	}))
	fmt.Printf("\n  Cost per call  %s\n", cli.RenderSparkline(costs))
	if partial > 0 {
		fmt.Println(cli.RenderWarning(fmt.Sprintf("%d call(s) ended before their stream completed", partial)))
	}
	return nil
}
