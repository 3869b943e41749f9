package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/ingest"
)

var (
	importPath  string
	importSheet string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import rate records from a file, directory or URL into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		records, err := ingest.LoadLocation(ctx, importPath, ingest.Options{SheetName: importSheet}, newFetcher())
		if err != nil {
			return eris.Wrap(err, "import: load")
		}

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := st.UpsertRateRecords(ctx, records)
		if err != nil {
			return eris.Wrap(err, "import: upsert")
		}

		zap.L().Info("import complete",
			zap.String("path", importPath),
			zap.Int("loaded", len(records)),
			zap.Int("written", res.Written),
			zap.Int("skipped", res.Skipped),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rate records (%d skipped without rate code)\n", res.Written, res.Skipped)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "path", "", "rate records file, directory or http(s) URL (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name for .xlsx input")
	_ = importCmd.MarkFlagRequired("path")
	rootCmd.AddCommand(importCmd)
}
