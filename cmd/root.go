// Package cmd implements the ccmeter CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/logging"
	"github.com/theirongolddev/ccmeter/internal/store"
)

var (
	flagDays    int
	flagDataDir string
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "ccmeter",
	Short: "Token and cost accounting for Claude agent sessions",
	Long: "Run an agent behind a local proxy and record the tokens and estimated cost\n" +
		"of every streamed Messages API call, then browse the recorded sessions.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if flagDataDir != "" {
			_ = os.Setenv("CCMETER_DATA_DIR", flagDataDir)
		}
	},
}

// exitError carries a supervised process's exit status out of Execute.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute is the main entry point called from main.go.
func Execute() {
	err := rootCmd.Execute()
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&flagDays, "days", "n", 30, "Time window in days")
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "", "Data directory (database, journals, logs)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

// loadConfig loads the config, falling back to defaults with a warning when
// the file is unreadable.
func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		if !flagQuiet {
			fmt.Fprintf(os.Stderr, "  Config unreadable (%v), using defaults\n", err)
		}
		cfg = config.DefaultConfig()
	}
	return cfg
}

// openLogger opens the diagnostic log, or discards logs if it cannot.
func openLogger(cfg config.Config) *logging.Logger {
	l, err := logging.Open(config.LogPath(cfg), cfg.Logging.Level)
	if err != nil {
		if !flagQuiet {
			fmt.Fprintf(os.Stderr, "  Logging disabled: %v\n", err)
		}
		return logging.Discard()
	}
	return l
}

// openStore opens the record database for read commands.
func openStore(cfg config.Config) (*store.DB, error) {
	db, err := store.Open(config.DBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
