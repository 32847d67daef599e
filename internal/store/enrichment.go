package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/model"
)

const (
	sqlCompleteEntry = `UPDATE enrichment_queue SET status = 'completed', completed_at = $2, metadata = $3, error = NULL
WHERE id = $1 AND status = 'processing'`

	sqlFailEntry = `UPDATE enrichment_queue SET status = 'failed', completed_at = $2, error = $3
WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	sqlGetCacheEntry = `SELECT id, item_id, field_id, value_string, value_number, value_boolean, value_date,
  enrichment_error_message, failed_enrichment_value, updated_at
FROM list_item_cache WHERE item_id = $1 AND field_id = $2`

	// Every slot is overwritten so a retyped value never leaves a stale one.
	sqlUpsertCacheEntry = `INSERT INTO list_item_cache (id, item_id, field_id, value_string, value_number, value_boolean,
  value_date, enrichment_error_message, failed_enrichment_value, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (item_id, field_id) DO UPDATE SET
  value_string = EXCLUDED.value_string,
  value_number = EXCLUDED.value_number,
  value_boolean = EXCLUDED.value_boolean,
  value_date = EXCLUDED.value_date,
  enrichment_error_message = EXCLUDED.enrichment_error_message,
  failed_enrichment_value = EXCLUDED.failed_enrichment_value,
  updated_at = EXCLUDED.updated_at`
)

const fieldSelect = `SELECT id, list_id, name, type, source_type, COALESCE(file_property, ''), COALESCE(prompt, ''),
  COALESCE(language_model, ''), COALESCE(language_provider, ''), COALESCE(failure_terms, ''), use_markdown, position
FROM list_fields`

// EnqueueEntries upserts (field, item) entries as pending. Entries that are
// processing keep running and are not counted.
func (s *PostgresStore) EnqueueEntries(ctx context.Context, listID, fieldID string, itemIDs []string, priority int) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(itemIDs))
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_queue (id, list_id, field_id, item_id, status, priority, requested_at)
		 SELECT q.id, $1::text, $2::text, q.item_id, 'pending', $5::int, $6::timestamptz
		 FROM unnest($3::text[], $4::text[]) AS q(id, item_id)
		 ON CONFLICT (field_id, item_id) DO UPDATE SET
		   status = 'pending',
		   priority = EXCLUDED.priority,
		   requested_at = EXCLUDED.requested_at,
		   started_at = NULL,
		   completed_at = NULL,
		   error = NULL,
		   metadata = NULL
		 WHERE enrichment_queue.status <> 'processing'`,
		listID, fieldID, ids, itemIDs, priority, s.timestamp(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: enqueue entries for field %s", fieldID)
	}
	return int(tag.RowsAffected()), nil
}

// ListItemIDs returns the ids of every item in a list.
func (s *PostgresStore) ListItemIDs(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM list_items WHERE list_id = $1 ORDER BY created_at, id`, listID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list item ids")
	}
	return collectStrings(rows, "item id")
}

// ListItemIDsMissingValue returns items without a usable cached value for
// the field. Strings matching a placeholder (case and space insensitive)
// count as missing.
func (s *PostgresStore) ListItemIDsMissingValue(ctx context.Context, listID, fieldID string, placeholders []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.id FROM list_items i
		 LEFT JOIN list_item_cache c ON c.item_id = i.id AND c.field_id = $2
		 WHERE i.list_id = $1
		   AND (c.id IS NULL
		     OR num_nonnulls(c.value_string, c.value_number, c.value_boolean, c.value_date) = 0
		     OR lower(btrim(c.value_string)) = ANY($3))
		 ORDER BY i.created_at, i.id`,
		listID, fieldID, placeholders,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items missing value")
	}
	return collectStrings(rows, "item id")
}

// DeletePendingEntries removes pending entries of a field. Empty itemIDs
// covers the whole field.
func (s *PostgresStore) DeletePendingEntries(ctx context.Context, listID, fieldID string, itemIDs []string) (int64, error) {
	sql := `DELETE FROM enrichment_queue WHERE list_id = $1 AND field_id = $2 AND status = 'pending'`
	args := []any{listID, fieldID}
	if len(itemIDs) > 0 {
		sql += ` AND item_id = ANY($3)`
		args = append(args, itemIDs)
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete pending entries for field %s", fieldID)
	}
	return tag.RowsAffected(), nil
}

// ClearFieldValues drops the cached values of a field across a list.
func (s *PostgresStore) ClearFieldValues(ctx context.Context, listID, fieldID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM list_item_cache c USING list_items i
		 WHERE c.item_id = i.id AND i.list_id = $1 AND c.field_id = $2`,
		listID, fieldID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: clear values for field %s", fieldID)
	}
	return tag.RowsAffected(), nil
}

// ResetProcessingEntries returns entries orphaned by a crash to pending.
func (s *PostgresStore) ResetProcessingEntries(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_queue SET status = 'pending', started_at = NULL WHERE status = 'processing'`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset processing entries")
	}
	return tag.RowsAffected(), nil
}

// ClaimPendingEntries moves up to limit pending entries to processing in
// one transaction. Rows locked by another worker are skipped, so no entry
// is claimed twice.
func (s *PostgresStore) ClaimPendingEntries(ctx context.Context, limit int) ([]model.EnrichmentEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin claim")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, list_id, field_id, item_id, priority, requested_at
		 FROM enrichment_queue
		 WHERE status = 'pending'
		 ORDER BY priority DESC, requested_at, id
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select pending entries")
	}
	var claimed []model.EnrichmentEntry
	for rows.Next() {
		var e model.EnrichmentEntry
		if err := rows.Scan(&e.ID, &e.ListID, &e.FieldID, &e.ItemID, &e.Priority, &e.RequestedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan pending entry")
		}
		claimed = append(claimed, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate pending entries")
	}
	if len(claimed) == 0 {
		return nil, eris.Wrap(tx.Commit(ctx), "postgres: commit empty claim")
	}

	now := s.timestamp()
	ids := make([]string, len(claimed))
	for i := range claimed {
		ids[i] = claimed[i].ID
		claimed[i].Status = model.EnrichmentProcessing
		claimed[i].StartedAt = &now
	}
	if _, err := tx.Exec(ctx,
		`UPDATE enrichment_queue SET status = 'processing', started_at = $2 WHERE id = ANY($1)`,
		ids, now,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: mark entries processing")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit claim")
	}
	return claimed, nil
}

// CompleteEntry marks a processing entry completed and reports whether it
// was still processing.
func (s *PostgresStore) CompleteEntry(ctx context.Context, entryID string, metadata map[string]any) (bool, error) {
	meta, err := marshalJSON(metadata)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, sqlCompleteEntry, entryID, s.timestamp(), meta)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete entry %s", entryID)
	}
	return tag.RowsAffected() > 0, nil
}

// FailEntry records an error on a non-terminal entry.
func (s *PostgresStore) FailEntry(ctx context.Context, entryID, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlFailEntry, entryID, s.timestamp(), message)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: fail entry %s", entryID)
	}
	return tag.RowsAffected() > 0, nil
}

// GetField loads a field with its ordered context sources. Referenced
// context fields are loaded without their own context.
func (s *PostgresStore) GetField(ctx context.Context, fieldID string) (*model.Field, error) {
	f, err := scanField(s.pool.QueryRow(ctx, fieldSelect+` WHERE id = $1`, fieldID))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get field %s", fieldID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.context_type, COALESCE(c.query_template, ''), COALESCE(c.url_template, ''),
		   COALESCE(c.max_chunks, 0), COALESCE(c.max_distance, 0), COALESCE(c.max_content_tokens, 0),
		   cf.id, cf.name, cf.type, cf.source_type, cf.file_property
		 FROM list_field_contexts c
		 LEFT JOIN list_fields cf ON cf.id = c.context_field_id
		 WHERE c.field_id = $1
		 ORDER BY c.position, c.id`,
		fieldID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load field context")
	}
	defer rows.Close()

	for rows.Next() {
		var cs model.ContextSource
		var refID, refName, refType, refSource, refProperty *string
		if err := rows.Scan(&cs.ID, &cs.Type, &cs.QueryTemplate, &cs.URLTemplate, &cs.MaxChunks, &cs.MaxDistance,
			&cs.MaxContentTokens, &refID, &refName, &refType, &refSource, &refProperty); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field context")
		}
		if refID != nil {
			cs.ContextField = &model.Field{
				ID:           *refID,
				ListID:       f.ListID,
				Name:         str(refName),
				Type:         model.FieldType(str(refType)),
				SourceType:   model.SourceType(str(refSource)),
				FileProperty: model.FileProperty(str(refProperty)),
			}
		}
		f.Context = append(f.Context, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate field context")
	}
	return f, nil
}

// ListFields returns the fields of a list in display order, without
// context sources.
func (s *PostgresStore) ListFields(ctx context.Context, listID string) ([]model.Field, error) {
	rows, err := s.pool.Query(ctx, fieldSelect+` WHERE list_id = $1 ORDER BY position, id`, listID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fields")
	}
	defer rows.Close()

	var out []model.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan field")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate fields")
}

func scanField(row pgx.Row) (*model.Field, error) {
	var f model.Field
	err := row.Scan(&f.ID, &f.ListID, &f.Name, &f.Type, &f.SourceType, &f.FileProperty, &f.Prompt,
		&f.LanguageModel, &f.LanguageProvider, &f.FailureTerms, &f.UseMarkdown, &f.Order)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetCacheEntry loads the cached value of one field for one item.
func (s *PostgresStore) GetCacheEntry(ctx context.Context, itemID, fieldID string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	err := s.pool.QueryRow(ctx, sqlGetCacheEntry, itemID, fieldID).Scan(&e.ID, &e.ItemID, &e.FieldID,
		&e.ValueString, &e.ValueNumber, &e.ValueBoolean, &e.ValueDate,
		&e.EnrichmentErrorMessage, &e.FailedEnrichmentValue, &e.UpdatedAt)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s/%s", itemID, fieldID)
	}
	return &e, nil
}

// UpsertCacheEntry writes the single computed value of (item, field).
func (s *PostgresStore) UpsertCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	if entry.Populated() > 1 {
		return eris.Errorf("postgres: cache entry %s/%s has %d value slots", entry.ItemID, entry.FieldID, entry.Populated())
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.timestamp()
	}
	_, err := s.pool.Exec(ctx, sqlUpsertCacheEntry,
		entry.ID, entry.ItemID, entry.FieldID,
		entry.ValueString, entry.ValueNumber, entry.ValueBoolean, entry.ValueDate,
		entry.EnrichmentErrorMessage, entry.FailedEnrichmentValue, entry.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert cache entry %s/%s", entry.ItemID, entry.FieldID)
}
