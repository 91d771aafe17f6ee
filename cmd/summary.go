package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/cli"
	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/logging"
	"github.com/theirongolddev/ccmeter/internal/model"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Token and cost totals across recorded sessions",
	RunE:  runSummary,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Usage broken down by model",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(summaryCmd, modelsCmd)
}

func windowStart() time.Time {
	if flagDays <= 0 {
		return time.Time{}
	}
	return time.Now().AddDate(0, 0, -flagDays)
}

// cacheSavings prices each model's cache reads at its full input rate and
// returns what the cache discount saved.
func cacheSavings(calc *config.Calculator, models []model.ModelStats) float64 {
	var saved float64
	for _, m := range models {
		saved += calc.CacheSavings(m.Model, m.CacheReadTokens)
	}
	return saved
}

// cachedCalculator resolves prices from the built-in table, the cached feed
// and overrides, without touching the network.
func cachedCalculator(cfg config.Config) *config.Calculator {
	calc := config.NewCalculator(cfg.Pricing.Overrides)
	if cfg.Pricing.FeedURL != "" {
		if res, err := priceFeed(cfg, logging.Discard().Logger).Cached(); err == nil {
			calc.MergeFeed(res.Prices)
		}
	}
	return calc
}

func runSummary(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	stats, err := db.Summary(windowStart())
	if err != nil {
		return err
	}
	if stats.TotalAPICalls == 0 {
		fmt.Printf("\n  No calls recorded in the last %d days.\n", flagDays)
		return nil
	}
	models, err := db.ModelBreakdown(windowStart())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("USAGE  Last %dd", flagDays)))
	fmt.Println()

	rows := [][]string{
		{"Sessions", cli.FormatNumber(int64(stats.TotalSessions))},
		{"API Calls", cli.FormatNumber(int64(stats.TotalAPICalls))},
		{"Partial Calls", cli.FormatNumber(int64(stats.PartialCalls))},
		{"---"},
		{"Input Tokens", cli.FormatTokens(stats.InputTokens)},
		{"Output Tokens", cli.FormatTokens(stats.OutputTokens)},
		{"Cache Write", cli.FormatTokens(stats.CacheWriteTokens)},
		{"Cache Read", cli.FormatTokens(stats.CacheReadTokens)},
		{"Cache Hit Rate", cli.FormatPercent(stats.CacheHitRate)},
		{"---"},
		{"Thinking Chars", cli.FormatNumber(stats.ThinkingChars)},
		{"Text Chars", cli.FormatNumber(stats.TextChars)},
		{"Tool Input Chars", cli.FormatNumber(stats.ToolChars)},
		{"---"},
		{"Cost (est)", cli.FormatCost(stats.EstimatedCost)},
		{"Cost/call", cli.FormatCost(stats.EstimatedCost / float64(stats.TotalAPICalls))},
		{"Cache Savings", cli.FormatCost(cacheSavings(cachedCalculator(cfg), models))},
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Metric", "Value"},
		Rows:    rows,
	}))
	return nil
}

func runModels(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	models, err := db.ModelBreakdown(windowStart())
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Printf("\n  No calls recorded in the last %d days.\n", flagDays)
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("MODELS  Last %dd", flagDays)))
	fmt.Println()

	calc := cachedCalculator(cfg)
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		rows = append(rows, []string{
			m.Model,
			cli.FormatNumber(int64(m.APICalls)),
			cli.FormatTokens(m.InputTokens),
			cli.FormatTokens(m.OutputTokens),
			cli.FormatCost(m.EstimatedCost),
			cli.FormatCost(calc.CacheSavings(m.Model, m.CacheReadTokens)),
			fmt.Sprintf("%.1f%%", m.SharePercent),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Calls", "Input", "Output", "Cost", "Cache Saved", "Share"},
		Rows:    rows,
	}))
	return nil
}
