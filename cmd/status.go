package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/list-enricher/internal/monitoring"
)

var (
	statusLookback int
	statusJSON     bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrichment, automation and extraction health",
	Long:  "Summarizes queue depth, batch outcomes, execution failure rate and extraction cost over a lookback window.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusLookback)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if statusJSON {
			return writeResult(os.Stdout, snap)
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 24, "lookback window in hours")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatSnapshot writes a two-column summary of snap to out.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "WINDOW\t%dh (as of %s)\n", snap.LookbackHours, snap.CollectedAt.Format("2006-01-02 15:04"))
	_, _ = fmt.Fprintf(w, "ENRICHMENT\t%d pending, %d processing, %d completed, %d failed (%.1f%% failed)\n",
		snap.EnrichmentPending, snap.EnrichmentProcessing, snap.EnrichmentCompleted, snap.EnrichmentFailed,
		snap.EnrichmentFailRate*100)
	_, _ = fmt.Fprintf(w, "BATCHES\t%d active, %d completed, %d with errors\n",
		snap.BatchesActive, snap.BatchesCompleted, snap.BatchesWithErrors)
	_, _ = fmt.Fprintf(w, "EXECUTIONS\t%d total, %d failed, %d warning (%.1f%% failed)\n",
		snap.ExecutionsTotal, snap.ExecutionsFailed, snap.ExecutionsWarning, snap.ExecutionFailureRate*100)
	_, _ = fmt.Fprintf(w, "EXTRACTION\t%d runs, %d failed, $%.4f\n",
		snap.ExtractionRuns, snap.ExtractionFailed, snap.ExtractionCostUSD)
	_ = w.Flush()
}
