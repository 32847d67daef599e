package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/db"
	"github.com/sells-group/list-enricher/internal/model"
)

const sourceSelect = `SELECT s.id, s.list_id, s.library_id, l.workspace_id, s.extraction_strategy, s.extraction_config
FROM list_sources s JOIN lists l ON l.id = s.list_id`

const fileSelect = `SELECT f.id, f.library_id, lib.name, lib.workspace_id, f.name, f.origin_uri, f.mime_type, f.size,
  cr.uri, f.origin_modification_date, cpt.processing_finished_at, f.archived_at
FROM files f
JOIN libraries lib ON lib.id = f.library_id
LEFT JOIN crawlers cr ON cr.id = f.crawled_by_crawler_id
LEFT JOIN LATERAL (
  SELECT t.processing_finished_at FROM content_processing_tasks t
  WHERE t.file_id = f.id ORDER BY t.created_at DESC LIMIT 1
) cpt ON true`

const itemSelect = `SELECT i.id, i.list_id, i.source_id, i.source_file_id, f.library_id, i.extraction_index,
  COALESCE(i.item_name, ''), i.metadata, i.created_at
FROM list_items i JOIN files f ON f.id = i.source_file_id`

var itemColumns = []string{"id", "list_id", "source_id", "source_file_id", "extraction_index", "item_name", "metadata", "created_at"}

// GetListSource loads a source with its list's workspace.
func (s *PostgresStore) GetListSource(ctx context.Context, sourceID string) (*model.ListSource, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, sourceSelect+` WHERE s.id = $1`, sourceID))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get list source %s", sourceID)
	}
	return src, nil
}

// ListSourcesForLibrary returns every list source fed by a library.
func (s *PostgresStore) ListSourcesForLibrary(ctx context.Context, libraryID string) ([]model.ListSource, error) {
	rows, err := s.pool.Query(ctx, sourceSelect+` WHERE s.library_id = $1 ORDER BY s.created_at, s.id`, libraryID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources for library")
	}
	defer rows.Close()

	var out []model.ListSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan list source")
		}
		out = append(out, *src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate list sources")
}

func scanSource(row pgx.Row) (*model.ListSource, error) {
	var src model.ListSource
	var cfg []byte
	if err := row.Scan(&src.ID, &src.ListID, &src.LibraryID, &src.WorkspaceID, &src.ExtractionStrategy, &cfg); err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &src.ExtractionConfig); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extraction config")
		}
	}
	return &src, nil
}

// GetFile loads a file with its library, crawler and processing metadata.
func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (*model.File, error) {
	f, err := scanFile(s.pool.QueryRow(ctx, fileSelect+` WHERE f.id = $1`, fileID))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get file %s", fileID)
	}
	return f, nil
}

// ListLibraryFiles returns the non-archived files of a library.
func (s *PostgresStore) ListLibraryFiles(ctx context.Context, libraryID string) ([]model.File, error) {
	rows, err := s.pool.Query(ctx,
		fileSelect+` WHERE f.library_id = $1 AND f.archived_at IS NULL ORDER BY f.created_at, f.id`,
		libraryID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list library files")
	}
	defer rows.Close()

	var out []model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan file")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate files")
}

func scanFile(row pgx.Row) (*model.File, error) {
	var f model.File
	var originURI, mimeType, crawlerURI *string
	err := row.Scan(&f.ID, &f.LibraryID, &f.LibraryName, &f.WorkspaceID, &f.Name, &originURI, &mimeType, &f.Size,
		&crawlerURI, &f.OriginModificationDate, &f.ProcessedAt, &f.ArchivedAt)
	if err != nil {
		return nil, err
	}
	f.OriginURI = str(originURI)
	f.MimeType = str(mimeType)
	f.CrawlerURI = str(crawlerURI)
	return &f, nil
}

// ListItemsForSourceFile returns the items one file produced for a source.
func (s *PostgresStore) ListItemsForSourceFile(ctx context.Context, sourceID, fileID string) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		itemSelect+` WHERE i.source_id = $1 AND i.source_file_id = $2 ORDER BY i.extraction_index NULLS FIRST, i.id`,
		sourceID, fileID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items for source file")
	}
	return collectItems(rows)
}

// ListItemsForSource returns every item of a source.
func (s *PostgresStore) ListItemsForSource(ctx context.Context, sourceID string) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		itemSelect+` WHERE i.source_id = $1 ORDER BY i.source_file_id, i.extraction_index NULLS FIRST, i.id`,
		sourceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items for source")
	}
	return collectItems(rows)
}

// GetItem loads one list item.
func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, itemSelect+` WHERE i.id = $1`, itemID))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get item %s", itemID)
	}
	return item, nil
}

func collectItems(rows pgx.Rows) ([]model.Item, error) {
	defer rows.Close()
	var out []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate items")
}

func scanItem(row pgx.Row) (*model.Item, error) {
	var item model.Item
	var metadata []byte
	err := row.Scan(&item.ID, &item.ListID, &item.SourceID, &item.SourceFileID, &item.LibraryID,
		&item.ExtractionIndex, &item.ItemName, &metadata, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	if item.Metadata, err = unmarshalJSON(metadata); err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItems bulk-inserts items with COPY.
func (s *PostgresStore) CreateItems(ctx context.Context, items []model.Item) error {
	now := s.timestamp()
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := item.CreatedAt
		if created.IsZero() {
			created = now
		}
		metadata, err := marshalJSON(item.Metadata)
		if err != nil {
			return err
		}
		var name *string
		if item.ItemName != "" {
			name = &item.ItemName
		}
		rows = append(rows, []any{id, item.ListID, item.SourceID, item.SourceFileID, item.ExtractionIndex, name, metadata, created})
	}
	_, err := db.CopyFrom(ctx, s.pool, "list_items", itemColumns, rows)
	return eris.Wrap(err, "postgres: create items")
}

// DeleteItems removes items. Their cached values and queue entries cascade.
func (s *PostgresStore) DeleteItems(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM list_items WHERE id = ANY($1)`, itemIDs)
	return eris.Wrap(err, "postgres: delete items")
}

// UpsertExtractionLog keeps one audit row per (source, file).
func (s *PostgresStore) UpsertExtractionLog(ctx context.Context, log *model.ExtractionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.UpdatedAt.IsZero() {
		log.UpdatedAt = s.timestamp()
	}
	input, err := json.Marshal(log.Input)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction input")
	}
	output, err := marshalJSON(log.Output)
	if err != nil {
		return err
	}
	var errMsg *string
	if log.Error != "" {
		errMsg = &log.Error
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_logs (id, source_id, file_id, strategy, input, output, error, items_created, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (source_id, file_id) DO UPDATE SET
		   strategy = EXCLUDED.strategy,
		   input = EXCLUDED.input,
		   output = EXCLUDED.output,
		   error = EXCLUDED.error,
		   items_created = EXCLUDED.items_created,
		   updated_at = EXCLUDED.updated_at`,
		log.ID, log.SourceID, log.FileID, log.Strategy, input, output, errMsg, log.ItemsCreated, log.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert extraction log %s/%s", log.SourceID, log.FileID)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
