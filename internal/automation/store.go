// Package automation runs connector actions over list items in batches and
// keeps automation items in step with their list.
package automation

import (
	"context"
	"time"

	"github.com/sells-group/list-enricher/internal/model"
)

// Store is the persistence used by the engine and the syncer. Getters
// return nil without error when the row does not exist.
type Store interface {
	// Crash recovery.
	ResetRunningBatches(ctx context.Context) (int64, error)
	ResetProcessingItems(ctx context.Context) (int64, error)

	// Batch loop.
	ListActiveBatches(ctx context.Context, limit int) ([]model.AutomationBatch, error)
	MarkBatchRunning(ctx context.Context, batchID string, startedAt time.Time) error
	GetAutomation(ctx context.Context, id string) (*model.Automation, error)
	GetConnector(ctx context.Context, id string) (*model.Connector, error)
	FieldNames(ctx context.Context, listID string) (map[string]string, error)
	ListPendingItems(ctx context.Context, automationID string, limit int) ([]model.AutomationItem, error)
	CountPendingItems(ctx context.Context, automationID string) (int, error)
	IncrementBatchCounters(ctx context.Context, batchID string, c model.ExecutionCounts) error
	CountBatchExecutions(ctx context.Context, batchID string) (model.ExecutionCounts, error)
	FinalizeBatch(ctx context.Context, batchID string, status model.BatchStatus, c model.ExecutionCounts, finishedAt time.Time) error

	// Per item. ClaimItem moves a PENDING item to PROCESSING and reports
	// whether this caller won it.
	ClaimItem(ctx context.Context, itemID string) (bool, error)
	// ReleaseItem moves a PROCESSING item back to PENDING.
	ReleaseItem(ctx context.Context, itemID string) (bool, error)
	SetItemStatus(ctx context.Context, itemID string, status model.AutomationItemStatus) error
	CacheEntriesForItems(ctx context.Context, listItemIDs []string) (map[string][]model.CacheEntry, error)
	CreateExecution(ctx context.Context, ex *model.Execution) error

	// Triggering. CreateBatch resets the in-scope items (or only onlyItemID)
	// to PENDING and inserts b with their count as ItemsTotal in one
	// transaction. Nothing is written when no item qualifies.
	CreateBatch(ctx context.Context, b *model.AutomationBatch, onlyItemID string) (int, error)
	GetAutomationItem(ctx context.Context, id string) (*model.AutomationItem, error)
	CancelPendingItems(ctx context.Context, automationID string) (int64, error)

	// Item sync.
	CreateMissingItems(ctx context.Context, automationID string) (int, error)
	ListAutomationIDs(ctx context.Context, listID string) ([]string, error)
	DeleteOrphanedItems(ctx context.Context, automationID string) (int64, error)
}
