package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Entries still pending or processing count regardless of age.
const sqlEnrichmentStatusCounts = `SELECT status, count(*) FROM enrichment_queue
WHERE requested_at >= $1 OR status IN ('pending', 'processing')
GROUP BY status`

const sqlBatchStatusCounts = `SELECT status, count(*) FROM automation_batches
WHERE created_at >= $1 OR status IN ('PENDING', 'RUNNING')
GROUP BY status`

const sqlExecutionStatusCounts = `SELECT status, count(*) FROM automation_item_executions
WHERE started_at >= $1
GROUP BY status`

const sqlExtractionStats = `SELECT count(*),
  count(*) FILTER (WHERE error IS NOT NULL),
  COALESCE(sum((output->'usage'->>'costUsd')::float8), 0)
FROM extraction_logs WHERE updated_at >= $1`

// EnrichmentStatusCounts counts queue entries by status.
func (s *PostgresStore) EnrichmentStatusCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	return s.statusCounts(ctx, sqlEnrichmentStatusCounts, since, "postgres: enrichment status counts")
}

// BatchStatusCounts counts automation batches by status.
func (s *PostgresStore) BatchStatusCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	return s.statusCounts(ctx, sqlBatchStatusCounts, since, "postgres: batch status counts")
}

// ExecutionStatusCounts counts automation item executions by status.
func (s *PostgresStore) ExecutionStatusCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	return s.statusCounts(ctx, sqlExecutionStatusCounts, since, "postgres: execution status counts")
}

// ExtractionStats returns the number of extraction runs, failed runs and
// the summed estimated LLM cost since the cutoff.
func (s *PostgresStore) ExtractionStats(ctx context.Context, since time.Time) (runs, failed int, costUSD float64, err error) {
	err = s.pool.QueryRow(ctx, sqlExtractionStats, since).Scan(&runs, &failed, &costUSD)
	if err != nil {
		return 0, 0, 0, eris.Wrap(err, "postgres: extraction stats")
	}
	return runs, failed, costUSD, nil
}

func (s *PostgresStore) statusCounts(ctx context.Context, query string, since time.Time, op string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, op)
		}
		out[status] = n
	}
	return out, eris.Wrap(rows.Err(), op)
}
