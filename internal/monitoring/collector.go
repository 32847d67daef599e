// Package monitoring summarizes queue, automation and extraction health
// over a lookback window.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/model"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Enrichment queue. Pending and processing entries count regardless of
	// the window.
	EnrichmentPending    int     `json:"enrichment_pending"`
	EnrichmentProcessing int     `json:"enrichment_processing"`
	EnrichmentCompleted  int     `json:"enrichment_completed"`
	EnrichmentFailed     int     `json:"enrichment_failed"`
	EnrichmentFailRate   float64 `json:"enrichment_fail_rate"`

	// Automation batches and executions.
	BatchesActive        int     `json:"batches_active"`
	BatchesCompleted     int     `json:"batches_completed"`
	BatchesWithErrors    int     `json:"batches_with_errors"`
	ExecutionsTotal      int     `json:"executions_total"`
	ExecutionsFailed     int     `json:"executions_failed"`
	ExecutionsWarning    int     `json:"executions_warning"`
	ExecutionsSkipped    int     `json:"executions_skipped"`
	ExecutionFailureRate float64 `json:"execution_failure_rate"`

	// Extraction runs.
	ExtractionRuns    int     `json:"extraction_runs"`
	ExtractionFailed  int     `json:"extraction_failed"`
	ExtractionCostUSD float64 `json:"extraction_cost_usd"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is the read side the collector needs.
type Store interface {
	EnrichmentStatusCounts(ctx context.Context, since time.Time) (map[string]int, error)
	BatchStatusCounts(ctx context.Context, since time.Time) (map[string]int, error)
	ExecutionStatusCounts(ctx context.Context, since time.Time) (map[string]int, error)
	ExtractionStats(ctx context.Context, since time.Time) (runs, failed int, costUSD float64, err error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.store.EnrichmentStatusCounts(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: enrichment counts")
	}
	snap.EnrichmentPending = entries[string(model.EnrichmentPending)]
	snap.EnrichmentProcessing = entries[string(model.EnrichmentProcessing)]
	snap.EnrichmentCompleted = entries[string(model.EnrichmentCompleted)]
	snap.EnrichmentFailed = entries[string(model.EnrichmentFailed)]
	snap.EnrichmentFailRate = rate(snap.EnrichmentFailed, snap.EnrichmentCompleted+snap.EnrichmentFailed)

	batches, err := c.store.BatchStatusCounts(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: batch counts")
	}
	snap.BatchesActive = batches[string(model.BatchPending)] + batches[string(model.BatchRunning)]
	snap.BatchesCompleted = batches[string(model.BatchCompleted)]
	snap.BatchesWithErrors = batches[string(model.BatchCompletedWithErrors)]

	execs, err := c.store.ExecutionStatusCounts(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: execution counts")
	}
	for _, n := range execs {
		snap.ExecutionsTotal += n
	}
	snap.ExecutionsFailed = execs[string(model.ExecutionFailed)]
	snap.ExecutionsWarning = execs[string(model.ExecutionWarning)]
	snap.ExecutionsSkipped = execs[string(model.ExecutionSkipped)]
	// Skipped executions never reached a connector.
	snap.ExecutionFailureRate = rate(snap.ExecutionsFailed, snap.ExecutionsTotal-snap.ExecutionsSkipped)

	snap.ExtractionRuns, snap.ExtractionFailed, snap.ExtractionCostUSD, err = c.store.ExtractionStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: extraction stats")
	}

	return snap, nil
}

func rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
