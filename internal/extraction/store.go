package extraction

import (
	"context"

	"github.com/sells-group/list-enricher/internal/model"
)

// Store is the persistence the engine needs.
type Store interface {
	GetListSource(ctx context.Context, sourceID string) (*model.ListSource, error)
	ListSourcesForLibrary(ctx context.Context, libraryID string) ([]model.ListSource, error)
	GetFile(ctx context.Context, fileID string) (*model.File, error)
	// ListLibraryFiles returns the non-archived files of a library.
	ListLibraryFiles(ctx context.Context, libraryID string) ([]model.File, error)

	ListItemsForSourceFile(ctx context.Context, sourceID, fileID string) ([]model.Item, error)
	ListItemsForSource(ctx context.Context, sourceID string) ([]model.Item, error)
	CreateItems(ctx context.Context, items []model.Item) error
	DeleteItems(ctx context.Context, itemIDs []string) error

	UpsertExtractionLog(ctx context.Context, log *model.ExtractionLog) error
}

// ListSyncer creates automation items for newly extracted list items.
type ListSyncer interface {
	SyncList(ctx context.Context, listID string) error
}
