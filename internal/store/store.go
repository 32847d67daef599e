// Package store persists lists, their items and cached values, the
// enrichment queue and automation runs in Postgres.
package store

import (
	"github.com/sells-group/list-enricher/internal/automation"
	"github.com/sells-group/list-enricher/internal/enrichment"
	"github.com/sells-group/list-enricher/internal/extraction"
)

var (
	_ extraction.Store = (*PostgresStore)(nil)
	_ enrichment.Store = (*PostgresStore)(nil)
	_ automation.Store = (*PostgresStore)(nil)
)
