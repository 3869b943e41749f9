package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/monitoring"
	"github.com/sells-group/tariff-cli/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect saved completeness snapshots",
	Long:  "Commands for listing, viewing, and summarizing snapshots saved by score --save.",
}

// -- snapshots list --

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := snapshotFilterFromFlags(cmd)
		snaps, err := st.ListSnapshots(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "snapshots list")
		}

		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}

		formatSnapshotList(cmd.OutOrStdout(), snaps)
		return nil
	},
}

// -- snapshots show --

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Show a snapshot's full report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.GetSnapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "snapshots show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

// -- snapshots stats --

var snapshotsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show confidence counts across saved snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := snapshotFilterFromFlags(cmd)
		snaps, err := st.ListSnapshots(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "snapshots stats")
		}

		formatSnapshotStats(cmd.OutOrStdout(), computeSnapshotStats(snaps))
		return nil
	},
}

// -- snapshots check --

var snapshotsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare recent snapshots and report completeness regressions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mcfg := cfg.Monitoring
		if cmd.Flags().Changed("limit") {
			mcfg.LookbackSnapshots, _ = cmd.Flags().GetInt("limit")
		}
		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(mcfg), mcfg)

		res, err := checker.CheckOnce(ctx)
		if err != nil {
			return eris.Wrap(err, "snapshots check")
		}

		formatAlerts(cmd.OutOrStdout(), res.Metrics, res.Alerts)
		if mcfg.WebhookURL != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Sent %d of %d alerts\n", res.Sent, len(res.Alerts))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{snapshotsListCmd, snapshotsStatsCmd} {
		c.Flags().String("utility", "", "filter by utility ID")
		c.Flags().String("commodity", "", "filter by commodity (electric, gas, water)")
	}
	snapshotsListCmd.Flags().Int("limit", 50, "max number of snapshots to display")
	snapshotsListCmd.Flags().Int("offset", 0, "number of snapshots to skip")
	snapshotsStatsCmd.Flags().Int("limit", 1000, "max number of snapshots to summarize")
	snapshotsCheckCmd.Flags().Int("limit", 0, "snapshots to scan (default monitoring.lookback_snapshots)")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	snapshotsCmd.AddCommand(snapshotsStatsCmd)
	snapshotsCmd.AddCommand(snapshotsCheckCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

func snapshotFilterFromFlags(cmd *cobra.Command) store.SnapshotFilter {
	utility, _ := cmd.Flags().GetString("utility")
	commodity, _ := cmd.Flags().GetString("commodity")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return store.SnapshotFilter{
		UtilityID: utility,
		Commodity: model.Commodity(commodity),
		Limit:     limit,
		Offset:    offset,
	}
}

// snapshotStats holds confidence counts and the mean overall score.
type snapshotStats struct {
	Total        int
	ByConfidence map[string]int
	AvgOverall   float64
}

func computeSnapshotStats(snaps []model.Snapshot) snapshotStats {
	s := snapshotStats{Total: len(snaps), ByConfidence: make(map[string]int)}
	var sum float64
	for _, snap := range snaps {
		s.ByConfidence[snap.Confidence]++
		sum += snap.Report.Overall
	}
	if s.Total > 0 {
		s.AvgOverall = sum / float64(s.Total)
	}
	return s
}

// formatSnapshotList writes a tabular list of snapshots to w.
func formatSnapshotList(out io.Writer, snaps []model.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUTILITY\tCOMMODITY\tCONFIDENCE\tRECORDS\tOVERALL\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t---------\t----------\t-------\t-------\t-------")

	for _, s := range snaps {
		utility := s.UtilityID
		if utility == "" {
			utility = "*"
		}
		commodity := string(s.Commodity)
		if commodity == "" {
			commodity = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(s.ID),
			utility,
			commodity,
			s.Confidence,
			s.Report.RecordCount,
			formatPct(s.Report.Overall),
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatSnapshotStats writes aggregate stats to w.
func formatSnapshotStats(out io.Writer, s snapshotStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total snapshots:\t%d\n", s.Total)

	levels := make([]string, 0, len(s.ByConfidence))
	for level := range s.ByConfidence {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	for _, level := range levels {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", level, s.ByConfidence[level])
	}
	if s.Total > 0 {
		_, _ = fmt.Fprintf(w, "Avg overall:\t%s\n", formatPct(s.AvgOverall))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAlerts(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	fmt.Fprintf(out, "Snapshots scanned: %d\n", snap.SnapshotsScanned)
	fmt.Fprintf(out, "Partitions:        %d\n", snap.Partitions)
	fmt.Fprintf(out, "Stub share:        %.1f%%\n", snap.StubShare*100)

	if len(alerts) == 0 {
		fmt.Fprintln(out, "No regressions detected.")
		return
	}

	fmt.Fprintf(out, "\nAlerts (%d):\n", len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
