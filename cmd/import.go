package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/ccmeter/internal/config"
	"github.com/theirongolddev/ccmeter/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import [session-id...]",
	Short: "Rebuild database records from session journals",
	Long: "Replay journaled calls into the database. Calls already present are\n" +
		"skipped. With no arguments every journal in the data directory is replayed.",
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(_ *cobra.Command, args []string) error {
	cfg := loadConfig()
	j, err := store.OpenJournal(config.JournalDir(cfg))
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ids := args
	if len(ids) == 0 {
		ids, err = journalSessions(config.JournalDir(cfg))
		if err != nil {
			return err
		}
	}

	total := 0
	for _, id := range ids {
		n, err := j.Replay(id, db)
		if err != nil {
			return fmt.Errorf("replaying %s: %w", id, err)
		}
		if !flagQuiet {
			fmt.Printf("  %s  %d call(s)\n", id, n)
		}
		total += n
	}
	fmt.Printf("  Imported %d call(s) from %d journal(s)\n", total, len(ids))
	return nil
}

func journalSessions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading journal dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	return ids, nil
}
