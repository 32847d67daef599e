package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/model"
)

const (
	sqlClaimAutomationItem = `UPDATE automation_items SET status = 'PROCESSING', updated_at = $2
WHERE id = $1 AND status = 'PENDING'`

	sqlReleaseAutomationItem = `UPDATE automation_items SET status = 'PENDING', updated_at = $2
WHERE id = $1 AND status = 'PROCESSING'`

	sqlSetItemStatus = `UPDATE automation_items SET status = $2, updated_at = $3 WHERE id = $1`

	sqlInsertExecution = `INSERT INTO automation_item_executions
  (id, automation_item_id, batch_id, status, input, output, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

const batchSelect = `SELECT id, automation_id, status, items_total, items_processed, items_success, items_warning,
  items_failed, items_skipped, COALESCE(triggered_by, ''), started_at, finished_at, created_at
FROM automation_batches`

const automationItemSelect = `SELECT id, automation_id, list_item_id, COALESCE(item_name, ''), in_scope, status, updated_at
FROM automation_items`

// ResetRunningBatches returns batches interrupted by a crash to pending.
func (s *PostgresStore) ResetRunningBatches(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_batches SET status = 'PENDING', started_at = NULL WHERE status = 'RUNNING'`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset running batches")
	}
	return tag.RowsAffected(), nil
}

// ResetProcessingItems returns items interrupted by a crash to pending.
func (s *PostgresStore) ResetProcessingItems(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_items SET status = 'PENDING', updated_at = $1 WHERE status = 'PROCESSING'`,
		s.timestamp(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset processing items")
	}
	return tag.RowsAffected(), nil
}

// ListActiveBatches returns pending and running batches, oldest first.
func (s *PostgresStore) ListActiveBatches(ctx context.Context, limit int) ([]model.AutomationBatch, error) {
	rows, err := s.pool.Query(ctx,
		batchSelect+` WHERE status IN ('PENDING', 'RUNNING') ORDER BY created_at, id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active batches")
	}
	defer rows.Close()

	var out []model.AutomationBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate batches")
}

// GetBatch loads one batch.
func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.AutomationBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, batchSelect+` WHERE id = $1`, batchID))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return b, nil
}

func scanBatch(row pgx.Row) (*model.AutomationBatch, error) {
	var b model.AutomationBatch
	err := row.Scan(&b.ID, &b.AutomationID, &b.Status, &b.ItemsTotal, &b.ItemsProcessed, &b.ItemsSuccess,
		&b.ItemsWarning, &b.ItemsFailed, &b.ItemsSkipped, &b.TriggeredBy, &b.StartedAt, &b.FinishedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkBatchRunning moves a pending batch to running.
func (s *PostgresStore) MarkBatchRunning(ctx context.Context, batchID string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE automation_batches SET status = 'RUNNING', started_at = $2 WHERE id = $1 AND status = 'PENDING'`,
		batchID, startedAt,
	)
	return eris.Wrapf(err, "postgres: mark batch %s running", batchID)
}

// GetAutomation loads an automation.
func (s *PostgresStore) GetAutomation(ctx context.Context, id string) (*model.Automation, error) {
	var a model.Automation
	var cfg []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, list_id, workspace_id, name, connector_id, connector_type, connector_action, action_config
		 FROM automations WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.ListID, &a.WorkspaceID, &a.Name, &a.ConnectorID, &a.ConnectorType, &a.ConnectorAction, &cfg)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get automation %s", id)
	}
	if a.ActionConfig, err = unmarshalJSON(cfg); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetConnector loads a connector with its stored (encrypted) config.
func (s *PostgresStore) GetConnector(ctx context.Context, id string) (*model.Connector, error) {
	var c model.Connector
	var baseURL *string
	var cfg []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, connector_type, base_url, config FROM connectors WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.WorkspaceID, &c.ConnectorType, &baseURL, &cfg)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get connector %s", id)
	}
	c.BaseURL = str(baseURL)
	if c.Config, err = unmarshalJSON(cfg); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConnector inserts or replaces a connector. Config must already be
// prepared for storage.
func (s *PostgresStore) SaveConnector(ctx context.Context, c *model.Connector) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cfg, err := marshalJSON(c.Config)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = []byte("{}")
	}
	var baseURL *string
	if c.BaseURL != "" {
		baseURL = &c.BaseURL
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO connectors (id, workspace_id, connector_type, base_url, config)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   connector_type = EXCLUDED.connector_type,
		   base_url = EXCLUDED.base_url,
		   config = EXCLUDED.config`,
		c.ID, c.WorkspaceID, c.ConnectorType, baseURL, cfg,
	)
	return eris.Wrapf(err, "postgres: save connector %s", c.ID)
}

// FieldNames maps the field ids of a list to their names.
func (s *PostgresStore) FieldNames(ctx context.Context, listID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM list_fields WHERE list_id = $1`, listID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: field names")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field name")
		}
		out[id] = name
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate field names")
}

// ListPendingItems returns in-scope pending items of an automation, oldest
// first.
func (s *PostgresStore) ListPendingItems(ctx context.Context, automationID string, limit int) ([]model.AutomationItem, error) {
	rows, err := s.pool.Query(ctx,
		automationItemSelect+` WHERE automation_id = $1 AND in_scope AND status = 'PENDING'
		 ORDER BY updated_at, id LIMIT $2`,
		automationID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending items")
	}
	defer rows.Close()

	var out []model.AutomationItem
	for rows.Next() {
		it, err := scanAutomationItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan automation item")
		}
		out = append(out, *it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate automation items")
}

// CountPendingItems counts in-scope pending items of an automation.
func (s *PostgresStore) CountPendingItems(ctx context.Context, automationID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM automation_items WHERE automation_id = $1 AND in_scope AND status = 'PENDING'`,
		automationID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count pending items")
}

// GetAutomationItem loads one automation item.
func (s *PostgresStore) GetAutomationItem(ctx context.Context, id string) (*model.AutomationItem, error) {
	it, err := scanAutomationItem(s.pool.QueryRow(ctx, automationItemSelect+` WHERE id = $1`, id))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get automation item %s", id)
	}
	return it, nil
}

func scanAutomationItem(row pgx.Row) (*model.AutomationItem, error) {
	var it model.AutomationItem
	if err := row.Scan(&it.ID, &it.AutomationID, &it.ListItemID, &it.ItemName, &it.InScope, &it.Status, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// IncrementBatchCounters adds one poll's outcomes to a batch in a single
// statement so concurrent engines never lose an update.
func (s *PostgresStore) IncrementBatchCounters(ctx context.Context, batchID string, c model.ExecutionCounts) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE automation_batches SET
		   items_processed = items_processed + $2,
		   items_success = items_success + $3,
		   items_warning = items_warning + $4,
		   items_failed = items_failed + $5,
		   items_skipped = items_skipped + $6
		 WHERE id = $1`,
		batchID, c.Total(), c.Success, c.Warning, c.Failed, c.Skipped,
	)
	return eris.Wrapf(err, "postgres: increment batch %s counters", batchID)
}

// CountBatchExecutions aggregates a batch's executions by status.
func (s *PostgresStore) CountBatchExecutions(ctx context.Context, batchID string) (model.ExecutionCounts, error) {
	var c model.ExecutionCounts
	err := s.pool.QueryRow(ctx,
		`SELECT
		   count(*) FILTER (WHERE status = 'SUCCESS'),
		   count(*) FILTER (WHERE status = 'WARNING'),
		   count(*) FILTER (WHERE status = 'FAILED'),
		   count(*) FILTER (WHERE status = 'SKIPPED')
		 FROM automation_item_executions WHERE batch_id = $1`,
		batchID,
	).Scan(&c.Success, &c.Warning, &c.Failed, &c.Skipped)
	return c, eris.Wrapf(err, "postgres: count batch %s executions", batchID)
}

// FinalizeBatch writes the final status and counts of a batch.
func (s *PostgresStore) FinalizeBatch(ctx context.Context, batchID string, status model.BatchStatus, c model.ExecutionCounts, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE automation_batches SET
		   status = $2,
		   items_processed = $3,
		   items_success = $4,
		   items_warning = $5,
		   items_failed = $6,
		   items_skipped = $7,
		   finished_at = $8
		 WHERE id = $1`,
		batchID, string(status), c.Total(), c.Success, c.Warning, c.Failed, c.Skipped, finishedAt,
	)
	return eris.Wrapf(err, "postgres: finalize batch %s", batchID)
}

// ClaimItem moves a pending item to processing and reports whether this
// caller won it.
func (s *PostgresStore) ClaimItem(ctx context.Context, itemID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlClaimAutomationItem, itemID, s.timestamp())
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim item %s", itemID)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseItem hands a claimed item back to PENDING. It reports false when the
// item is no longer PROCESSING.
func (s *PostgresStore) ReleaseItem(ctx context.Context, itemID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlReleaseAutomationItem, itemID, s.timestamp())
	if err != nil {
		return false, eris.Wrapf(err, "postgres: release item %s", itemID)
	}
	return tag.RowsAffected() == 1, nil
}

// SetItemStatus records an item's outcome.
func (s *PostgresStore) SetItemStatus(ctx context.Context, itemID string, status model.AutomationItemStatus) error {
	_, err := s.pool.Exec(ctx, sqlSetItemStatus, itemID, string(status), s.timestamp())
	return eris.Wrapf(err, "postgres: set item %s status", itemID)
}

// CacheEntriesForItems loads every cached value of the given list items.
func (s *PostgresStore) CacheEntriesForItems(ctx context.Context, listItemIDs []string) (map[string][]model.CacheEntry, error) {
	out := make(map[string][]model.CacheEntry, len(listItemIDs))
	if len(listItemIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, field_id, value_string, value_number, value_boolean, value_date,
		   enrichment_error_message, failed_enrichment_value, updated_at
		 FROM list_item_cache WHERE item_id = ANY($1)`,
		listItemIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache entries for items")
	}
	defer rows.Close()

	for rows.Next() {
		var e model.CacheEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.FieldID, &e.ValueString, &e.ValueNumber, &e.ValueBoolean, &e.ValueDate,
			&e.EnrichmentErrorMessage, &e.FailedEnrichmentValue, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache entry")
		}
		out[e.ItemID] = append(out[e.ItemID], e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate cache entries")
}

// CreateExecution appends an immutable execution record.
func (s *PostgresStore) CreateExecution(ctx context.Context, ex *model.Execution) error {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	input, err := marshalJSON(ex.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(ex.Output)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlInsertExecution,
		ex.ID, ex.AutomationItemID, ex.BatchID, string(ex.Status), input, output, ex.StartedAt, ex.FinishedAt,
	)
	return eris.Wrapf(err, "postgres: create execution for item %s", ex.AutomationItemID)
}

// CreateBatch resets the in-scope items of the automation (or only
// onlyItemID, if it is in scope) to pending and inserts b with their count, in one
// transaction. Returns 0 and writes nothing when no item qualifies.
func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.AutomationBatch, onlyItemID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin create batch")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.timestamp()
	sql := `UPDATE automation_items SET status = 'PENDING', updated_at = $2 WHERE automation_id = $1 AND in_scope`
	args := []any{b.AutomationID, now}
	if onlyItemID != "" {
		sql += ` AND id = $3`
		args = append(args, onlyItemID)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset batch items")
	}
	n := int(tag.RowsAffected())
	if n == 0 {
		return 0, nil
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.ItemsTotal = n
	var triggeredBy *string
	if b.TriggeredBy != "" {
		triggeredBy = &b.TriggeredBy
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO automation_batches (id, automation_id, status, items_total, triggered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.AutomationID, string(b.Status), n, triggeredBy, b.CreatedAt,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: insert batch")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit create batch")
	}
	return n, nil
}

// CancelPendingItems marks the pending items of an automation skipped.
func (s *PostgresStore) CancelPendingItems(ctx context.Context, automationID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_items SET status = 'SKIPPED', updated_at = $2 WHERE automation_id = $1 AND status = 'PENDING'`,
		automationID, s.timestamp(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: cancel pending items of %s", automationID)
	}
	return tag.RowsAffected(), nil
}

// CreateMissingItems adds an automation item for every list item that has
// none yet.
func (s *PostgresStore) CreateMissingItems(ctx context.Context, automationID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO automation_items (id, automation_id, list_item_id, item_name, in_scope, status, updated_at)
		 SELECT gen_random_uuid()::text, a.id, i.id, i.item_name, true, 'PENDING', $2
		 FROM automations a
		 JOIN list_items i ON i.list_id = a.list_id
		 WHERE a.id = $1
		 ON CONFLICT (automation_id, list_item_id) DO NOTHING`,
		automationID, s.timestamp(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: create missing items for %s", automationID)
	}
	return int(tag.RowsAffected()), nil
}

// ListAutomationIDs returns the automations attached to a list.
func (s *PostgresStore) ListAutomationIDs(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM automations WHERE list_id = $1 ORDER BY created_at, id`, listID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list automation ids")
	}
	return collectStrings(rows, "automation id")
}

// DeleteOrphanedItems removes automation items whose list item is gone.
func (s *PostgresStore) DeleteOrphanedItems(ctx context.Context, automationID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM automation_items ai
		 WHERE ai.automation_id = $1
		   AND NOT EXISTS (SELECT 1 FROM list_items i WHERE i.id = ai.list_item_id)`,
		automationID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete orphaned items of %s", automationID)
	}
	return tag.RowsAffected(), nil
}
