package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/importer"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import-calls <file.csv>",
	Short: "Load a discovery-call CSV export into the reference corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and count rows without writing")
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	ctx := cmd.Context()
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	report, err := importer.New(db, slog.Default()).Import(ctx, f, importDryRun)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported=%d errors=%d batch=%s dry_run=%t\n",
		report.Imported, report.Errors, report.BatchID, importDryRun)
	return nil
}
