package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/completeness"
	"github.com/sells-group/tariff-cli/internal/ingest"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/registry"
	"github.com/sells-group/tariff-cli/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score rate metadata completeness",
	Long: `Score how complete utility rate metadata is, per tracked field.

Each field's percentage is the mean per-record credit: 1 for a meaningful
explicit (or untagged) value, the inferred credit for a meaningful inferred
value, and 0 for missing, "unknown" or unknown-sourced values. Partitions
are then classified as authoritative, partial or stub.

Examples:
  # Score a JSON file with half credit for inferred values
  score --input rates.json --inferred-credit 0.5

  # Score every file in a directory, one row per utility
  score --input ./exports --group-by utility

  # Score stored records for one utility and save snapshots
  score --from-store --utility pge --save

  # Track a custom field set and export CSV
  score --input rates.csv --fields customerClass,voltage,effectiveEnd --format csv --output out.csv`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("input", "", "rate records file, directory or http(s) URL (.json, .yaml, .csv, .xlsx)")
	f.String("sheet", "", "worksheet name for .xlsx input (default: first sheet)")
	f.Bool("from-store", false, "read rate records from the configured store")
	f.String("utility", "", "utility ID filter for --from-store")
	f.String("commodity", "", "commodity filter for --from-store")
	f.Float64("inferred-credit", 0, "credit in [0,1] for inferred values (overrides config)")
	f.String("untagged", "", "source assumed for untagged values: explicit, inferred or unknown (overrides config)")
	f.String("fields", "", "comma-separated tracked fields (overrides config)")
	f.String("group-by", "", "partitioning: none, utility, commodity or utility,commodity (overrides config)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("format", "table", "output format: table, csv or json")
	f.Bool("save", false, "save one snapshot per partition to the store")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "score"))

	input, _ := cmd.Flags().GetString("input")
	fromStore, _ := cmd.Flags().GetBool("from-store")
	outputPath, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	save, _ := cmd.Flags().GetBool("save")

	if (input == "") == !fromStore {
		return eris.New("score: exactly one of --input or --from-store is required")
	}
	if format != "table" && format != "csv" && format != "json" {
		return eris.Errorf("score: --format must be table, csv or json (got %q)", format)
	}

	ccfg := applyCompletenessOverrides(cmd, cfg.Completeness)
	groupBy := cfg.Score.GroupBy
	if v, _ := cmd.Flags().GetString("group-by"); v != "" {
		groupBy = v
	}
	cfg.Completeness = ccfg
	cfg.Score.GroupBy = groupBy
	if err := cfg.Validate("score"); err != nil {
		return err
	}

	var st store.Store
	if fromStore || save {
		s, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck
		st = s
	}

	var records []model.RateRecord
	var err error
	if fromStore {
		utility, _ := cmd.Flags().GetString("utility")
		commodity, _ := cmd.Flags().GetString("commodity")
		records, err = st.ListRateRecords(ctx, store.RateFilter{
			UtilityID: utility,
			Commodity: model.Commodity(commodity),
		})
		if err != nil {
			return eris.Wrap(err, "score: list rate records")
		}
	} else {
		sheet, _ := cmd.Flags().GetString("sheet")
		records, err = ingest.LoadLocation(ctx, input, ingest.Options{SheetName: sheet}, newFetcher())
		if err != nil {
			return eris.Wrap(err, "score: load input")
		}
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	log.Info("scoring rate records",
		zap.Int("records", len(records)),
		zap.String("group_by", groupBy),
		zap.Float64("inferred_credit", ccfg.InferredCredit),
	)

	res, err := scoreRecords(ctx, scoreRequest{
		Records:     records,
		Config:      ccfg,
		GroupBy:     groupBy,
		Concurrency: cfg.Score.Concurrency,
		Registry:    reg,
		Thresholds:  cfg.Registry.Thresholds,
	})
	if err != nil {
		return err
	}

	if err := outputScoreResults(res, format, outputPath, cmd.OutOrStdout()); err != nil {
		return err
	}

	if save {
		snaps := snapshotsFor(res)
		for _, snap := range snaps {
			if err := st.SaveSnapshot(ctx, snap); err != nil {
				return eris.Wrap(err, "score: save snapshot")
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d snapshots\n", len(snaps))
	}

	printScoreSummary(cmd.ErrOrStderr(), res)
	return nil
}

// applyCompletenessOverrides returns a copy of the base config with CLI flag
// overrides applied.
func applyCompletenessOverrides(cmd *cobra.Command, base completeness.Config) completeness.Config {
	c := base

	if cmd.Flags().Changed("inferred-credit") {
		c.InferredCredit, _ = cmd.Flags().GetFloat64("inferred-credit")
	}
	if v, _ := cmd.Flags().GetString("untagged"); v != "" {
		c.UntaggedSource = model.SourceTag(strings.TrimSpace(v))
	}
	if v, _ := cmd.Flags().GetString("fields"); v != "" {
		c.Fields = splitAndTrim(v)
		// Weights name the configured fields; a new field set starts unweighted.
		c.Weights = nil
	}

	return c
}

func printScoreSummary(w io.Writer, res *scoreResult) {
	if len(res.Results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	counts := make(map[registry.ConfidenceLevel]int)
	var records, missingRateCode int
	for _, r := range res.Results {
		counts[r.Confidence]++
		records += r.Report.RecordCount
		missingRateCode += r.Report.MissingRateCode
	}
	total := len(res.Results)
	fmt.Fprintf(w, "\n--- Summary ---\n")
	fmt.Fprintf(w, "Partitions:        %d (group by %s)\n", total, res.GroupBy)
	fmt.Fprintf(w, "Records scored:    %d\n", records)
	fmt.Fprintf(w, "Authoritative:     %d (%.1f%%)\n", counts[registry.ConfidenceAuthoritative], pct(counts[registry.ConfidenceAuthoritative], total))
	fmt.Fprintf(w, "Partial:           %d (%.1f%%)\n", counts[registry.ConfidencePartial], pct(counts[registry.ConfidencePartial], total))
	fmt.Fprintf(w, "Stub:              %d (%.1f%%)\n", counts[registry.ConfidenceStub], pct(counts[registry.ConfidenceStub], total))
	if missingRateCode > 0 {
		fmt.Fprintf(w, "Missing rate code: %d\n", missingRateCode)
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func outputScoreResults(res *scoreResult, format, outputPath string, stdout io.Writer) error {
	w := stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	switch format {
	case "csv":
		return writeScoreCSV(w, res)
	case "json":
		return writeScoreJSON(w, res)
	case "table":
		return writeScoreTable(w, res)
	default:
		return eris.Errorf("score: unsupported format %q", format)
	}
}

func writeScoreJSON(w io.Writer, res *scoreResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "score: write JSON")
}

func writeScoreCSV(w io.Writer, res *scoreResult) error {
	cw := csv.NewWriter(w)

	header := []string{"utility_id", "commodity", "name", "registered", "confidence", "record_count", "missing_rate_code", "overall"}
	for _, f := range res.Fields {
		header = append(header, f+model.PctSuffix)
	}
	header = append(header, "weakest_field")
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}

	for _, r := range res.Results {
		row := []string{
			r.Key.UtilityID,
			string(r.Key.Commodity),
			r.Name,
			strconv.FormatBool(r.Registered),
			string(r.Confidence),
			strconv.Itoa(r.Report.RecordCount),
			strconv.Itoa(r.Report.MissingRateCode),
			formatPct(r.Report.Overall),
		}
		for _, f := range res.Fields {
			row = append(row, formatPct(r.Report.Pct(f)))
		}
		row = append(row, r.WeakestField)
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "score: write CSV row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "score: flush CSV")
}

func writeScoreTable(w io.Writer, res *scoreResult) error {
	header := fmt.Sprintf("%-20s %-10s %-14s %8s %8s", "Utility", "Commodity", "Confidence", "Records", "Overall")
	for _, f := range res.Fields {
		header += fmt.Sprintf(" %*s", colWidth(f), f)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return eris.Wrap(err, "score: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", len(header))); err != nil {
		return eris.Wrap(err, "score: write table separator")
	}

	for _, r := range res.Results {
		utility := r.Key.UtilityID
		if utility == "" {
			utility = "*"
		}
		if len(utility) > 20 {
			utility = utility[:17] + "..."
		}
		commodity := string(r.Key.Commodity)
		if commodity == "" {
			commodity = "*"
		}
		line := fmt.Sprintf("%-20s %-10s %-14s %8d %8s",
			utility, commodity, r.Confidence, r.Report.RecordCount, formatPct(r.Report.Overall))
		for _, f := range res.Fields {
			line += fmt.Sprintf(" %*s", colWidth(f), formatPct(r.Report.Pct(f)))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return eris.Wrap(err, "score: write table row")
		}
	}
	return nil
}

func colWidth(field string) int {
	if len(field) < 8 {
		return 8
	}
	return len(field)
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
