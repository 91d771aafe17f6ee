package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("  Config file: %s\n", config.ConfigPath())
	if config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [Proxy]")
	fmt.Printf("    Listen:       %s\n", cfg.Proxy.Listen)
	fmt.Printf("    Upstream:     %s\n", cfg.Proxy.Upstream)
	fmt.Printf("    Metered path: %s (excluding %s)\n", cfg.Proxy.Path, cfg.Proxy.ExcludePath)
	fmt.Println()

	fmt.Println("  [Status]")
	if cfg.Status.Enabled {
		fmt.Printf("    Listen:        %s\n", cfg.Status.Listen)
		fmt.Printf("    Events buffer: %d\n", cfg.Status.EventsBuffer)
	} else {
		fmt.Println("    Disabled")
	}
	fmt.Println()

	fmt.Println("  [Storage]")
	fmt.Printf("    Data directory: %s\n", config.DataDir(cfg))
	fmt.Printf("    Database:       %s\n", config.DBPath(cfg))
	if cfg.Storage.Journal {
		fmt.Printf("    Journal:        %s\n", config.JournalDir(cfg))
	} else {
		fmt.Println("    Journal:        off")
	}
	fmt.Println()

	fmt.Println("  [Logging]")
	fmt.Printf("    Level: %s\n", cfg.Logging.Level)
	fmt.Printf("    File:  %s\n", config.LogPath(cfg))
	fmt.Println()

	fmt.Println("  [Pricing]")
	if cfg.Pricing.FeedURL != "" {
		fmt.Printf("    Feed:    %s (refresh every %s)\n", cfg.Pricing.FeedURL, cfg.Pricing.RefreshInterval())
	} else {
		fmt.Println("    Feed:    off, built-in prices only")
	}
	if len(cfg.Pricing.Overrides) > 0 {
		names := make([]string, 0, len(cfg.Pricing.Overrides))
		for name := range cfg.Pricing.Overrides {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    Override: %s\n", name)
		}
	}
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `ccmeter setup` to reconfigure.")
	return nil
}
