package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/cli"
	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/logging"
	"github.com/theirongolddev/ccmeter/internal/pricefeed"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show the price table used for cost estimates",
	RunE:  runPricing,
}

var pricingRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the pricing feed now",
	RunE:  runPricingRefresh,
}

func init() {
	pricingCmd.AddCommand(pricingRefreshCmd)
	rootCmd.AddCommand(pricingCmd)
}

func priceFeed(cfg config.Config, log *slog.Logger) *pricefeed.Feed {
	return pricefeed.New(
		pricefeed.NewClient(cfg.Pricing.FeedURL, nil),
		filepath.Join(config.DataDir(cfg), "pricefeed"),
		cfg.Pricing.RefreshInterval(),
		log,
	)
}

func runPricing(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	calc := config.NewCalculator(cfg.Pricing.Overrides)

	source := "built-in table"
	if cfg.Pricing.FeedURL != "" {
		if res, err := priceFeed(cfg, logging.Discard().Logger).Cached(); err == nil {
			calc.MergeFeed(res.Prices)
			source = fmt.Sprintf("feed fetched %s", cli.FormatAgo(res.FetchedAt))
		}
	}

	table := calc.Table()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		p := table[name]
		rows = append(rows, []string{
			name,
			perMTok(p.InputPerMTok),
			perMTok(p.OutputPerMTok),
			perMTok(p.CacheWritePerMTok),
			perMTok(p.CacheReadPerMTok),
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("PRICING  USD per million tokens  (%s)", source)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Input", "Output", "Cache Write", "Cache Read"},
		Rows:    rows,
	}))
	return nil
}

func perMTok(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func runPricingRefresh(_ *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if cfg.Pricing.FeedURL == "" {
		return fmt.Errorf("no pricing feed configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := openLogger(cfg)
	defer func() { _ = logger.Close() }()

	res, err := priceFeed(cfg, logger.Logger).Load(ctx, true)
	if err != nil {
		return fmt.Errorf("refreshing prices: %w", err)
	}
	if res.Stale {
		fmt.Println(cli.RenderWarning("feed unreachable, kept the cached copy"))
	}
	fmt.Printf("  %d model prices from %s\n", len(res.Prices), cfg.Pricing.FeedURL)
	return nil
}
