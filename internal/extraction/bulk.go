package extraction

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when the source or file of an extraction does not
// exist.
var ErrNotFound = eris.New("extraction: not found")

// bulkConcurrency bounds concurrent file extractions in bulk runs.
const bulkConcurrency = 4

// FileFailure records one file that failed during a bulk run.
type FileFailure struct {
	SourceID string `json:"source_id"`
	FileID   string `json:"file_id"`
	Error    string `json:"error"`
}

// BulkResult aggregates the per-file outcomes of a bulk run.
type BulkResult struct {
	Files        int           `json:"files"`
	ItemsCreated int           `json:"items_created"`
	ItemsDeleted int           `json:"items_deleted"`
	Skipped      int           `json:"skipped"`
	Fallbacks    int           `json:"fallbacks"`
	Failures     []FileFailure `json:"failures,omitempty"`
}

type target struct {
	sourceID string
	fileID   string
}

// ExtractSource extracts every non-archived file in the source's library.
// Used when a source is created.
func (e *Engine) ExtractSource(ctx context.Context, sourceID string) (*BulkResult, error) {
	source, err := e.store.GetListSource(ctx, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: load source %s", sourceID)
	}
	if source == nil {
		return nil, eris.Wrapf(ErrNotFound, "extraction: source %s", sourceID)
	}
	files, err := e.store.ListLibraryFiles(ctx, source.LibraryID)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: list files of library %s", source.LibraryID)
	}

	targets := make([]target, len(files))
	for i, f := range files {
		targets[i] = target{sourceID: sourceID, fileID: f.ID}
	}
	res := e.run(ctx, targets)
	if res.ItemsCreated > 0 {
		e.syncList(ctx, source.ListID)
	}
	return res, ctx.Err()
}

// RefreshSource deletes every item of the source and extracts again.
func (e *Engine) RefreshSource(ctx context.Context, sourceID string) (*BulkResult, error) {
	items, err := e.store.ListItemsForSource(ctx, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: list items of source %s", sourceID)
	}
	if err := e.removeItems(ctx, items); err != nil {
		return nil, err
	}
	res, err := e.ExtractSource(ctx, sourceID)
	if res != nil {
		res.ItemsDeleted += len(items)
	}
	return res, err
}

// ExtractProcessedFile extracts a newly converted file for every source that
// reads from its library.
func (e *Engine) ExtractProcessedFile(ctx context.Context, fileID, libraryID string) (*BulkResult, error) {
	sources, err := e.store.ListSourcesForLibrary(ctx, libraryID)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: list sources of library %s", libraryID)
	}

	targets := make([]target, len(sources))
	lists := make(map[string]struct{}, len(sources))
	for i, s := range sources {
		targets[i] = target{sourceID: s.ID, fileID: fileID}
		lists[s.ListID] = struct{}{}
	}
	res := e.run(ctx, targets)
	if res.ItemsCreated > 0 {
		for listID := range lists {
			e.syncList(ctx, listID)
		}
	}
	return res, ctx.Err()
}

// run extracts each target without syncing lists and never aborts on a
// single failure.
func (e *Engine) run(ctx context.Context, targets []target) *BulkResult {
	res := &BulkResult{Files: len(targets)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r, err := e.extractOne(gctx, t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, FileFailure{SourceID: t.sourceID, FileID: t.fileID, Error: err.Error()})
				return nil
			}
			res.ItemsCreated += r.ItemsCreated
			res.ItemsDeleted += r.ItemsDeleted
			if r.Skipped {
				res.Skipped++
			}
			if r.Fallback != "" {
				res.Fallbacks++
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("bulk extraction complete",
		zap.Int("files", res.Files),
		zap.Int("items_created", res.ItemsCreated),
		zap.Int("failures", len(res.Failures)),
	)
	return res
}

func (e *Engine) extractOne(ctx context.Context, t target) (*Result, error) {
	source, err := e.store.GetListSource(ctx, t.sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: load source %s", t.sourceID)
	}
	if source == nil {
		return nil, eris.Wrapf(ErrNotFound, "extraction: source %s", t.sourceID)
	}
	file, err := e.store.GetFile(ctx, t.fileID)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: load file %s", t.fileID)
	}
	if file == nil {
		return nil, eris.Wrapf(ErrNotFound, "extraction: file %s", t.fileID)
	}
	return e.extract(ctx, source, file)
}
