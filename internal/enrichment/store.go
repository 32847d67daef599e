// Package enrichment queues, computes and publishes LLM-computed field
// values for list items.
package enrichment

import (
	"context"

	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/vector"
)

// Store is the persistence used by the queue and the worker.
type Store interface {
	// Queue maintenance.
	EnqueueEntries(ctx context.Context, listID, fieldID string, itemIDs []string, priority int) (int, error)
	ListItemIDs(ctx context.Context, listID string) ([]string, error)
	ListItemIDsMissingValue(ctx context.Context, listID, fieldID string, placeholders []string) ([]string, error)
	DeletePendingEntries(ctx context.Context, listID, fieldID string, itemIDs []string) (int64, error)
	ClearFieldValues(ctx context.Context, listID, fieldID string) (int64, error)

	// Worker lifecycle. ClaimPendingEntries moves up to limit pending
	// entries to processing atomically and returns them.
	ResetProcessingEntries(ctx context.Context) (int64, error)
	ClaimPendingEntries(ctx context.Context, limit int) ([]model.EnrichmentEntry, error)
	CompleteEntry(ctx context.Context, entryID string, metadata map[string]any) (bool, error)
	FailEntry(ctx context.Context, entryID, message string) (bool, error)

	// Reads for context resolution.
	GetField(ctx context.Context, fieldID string) (*model.Field, error)
	GetItem(ctx context.Context, itemID string) (*model.Item, error)
	GetFile(ctx context.Context, fileID string) (*model.File, error)
	GetCacheEntry(ctx context.Context, itemID, fieldID string) (*model.CacheEntry, error)

	UpsertCacheEntry(ctx context.Context, entry *model.CacheEntry) error
}

// VectorSearcher finds library chunks similar to a query.
type VectorSearcher interface {
	Search(ctx context.Context, libraryID, query string, maxChunks int, maxDistance float64) ([]vector.Chunk, error)
}

// WebFetcher loads a page as text.
type WebFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Publisher fans out progress events.
type Publisher interface {
	Publish(ev model.EnrichmentEvent)
}
