package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/list-enricher/internal/model"
)

var cacheColumns = []string{
	"id", "item_id", "field_id", "value_string", "value_number", "value_boolean", "value_date",
	"enrichment_error_message", "failed_enrichment_value", "updated_at",
}

func TestPostgresStore_EnqueueEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO enrichment_queue.*unnest.*WHERE enrichment_queue\.status <> 'processing'`).
		WithArgs("list-1", "f-ceo", pgxmock.AnyArg(), []string{"item-1", "item-2", "item-3"}, 5, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := s.EnqueueEntries(context.Background(), "list-1", "f-ceo", []string{"item-1", "item-2", "item-3"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the processing entry is not counted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueEntries_NoItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.EnqueueEntries(context.Background(), "list-1", "f-ceo", nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListItemIDsMissingValue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	placeholders := []string{"", "unknown"}

	mock.ExpectQuery(`(?s)LEFT JOIN list_item_cache c ON c\.item_id = i\.id AND c\.field_id = \$2.*lower\(btrim\(c\.value_string\)\) = ANY\(\$3\)`).
		WithArgs("list-1", "f-ceo", placeholders).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("item-2").AddRow("item-5"))

	ids, err := s.ListItemIDsMissingValue(context.Background(), "list-1", "f-ceo", placeholders)
	require.NoError(t, err)
	assert.Equal(t, []string{"item-2", "item-5"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeletePendingEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`status = 'pending'$`).
		WithArgs("list-1", "f-ceo").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`status = 'pending' AND item_id = ANY\(\$3\)`).
		WithArgs("list-1", "f-ceo", []string{"item-1"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	n, err := s.DeletePendingEntries(context.Background(), "list-1", "f-ceo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = s.DeletePendingEntries(context.Background(), "list-1", "f-ceo", []string{"item-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPendingEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	requested := fixedNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)FROM enrichment_queue.*ORDER BY priority DESC, requested_at, id.*FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "list_id", "field_id", "item_id", "priority", "requested_at"}).
			AddRow("q-1", "list-1", "f-ceo", "item-1", 5, requested).
			AddRow("q-2", "list-1", "f-ceo", "item-2", 0, requested))
	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'processing', started_at = \$2 WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"q-1", "q-2"}, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	entries, err := s.ClaimPendingEntries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "q-1", entries[0].ID)
	assert.Equal(t, model.EnrichmentProcessing, entries[0].Status)
	require.NotNil(t, entries[1].StartedAt)
	assert.Equal(t, fixedNow, *entries[1].StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPendingEntries_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "list_id", "field_id", "item_id", "priority", "requested_at"}))
	mock.ExpectCommit()

	entries, err := s.ClaimPendingEntries(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPendingEntries_UpdateFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"id", "list_id", "field_id", "item_id", "priority", "requested_at"}).
			AddRow("q-1", "list-1", "f-ceo", "item-1", 0, fixedNow))
	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'processing'`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := s.ClaimPendingEntries(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark entries processing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'completed'.*\s+WHERE id = \$1 AND status = 'processing'`).
		WithArgs("q-1", fixedNow, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'completed'`).
		WithArgs("q-2", fixedNow, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.CompleteEntry(context.Background(), "q-1", map[string]any{"issues": []string{}})
	require.NoError(t, err)
	assert.True(t, ok)

	// Stopped or deleted while processing.
	ok, err = s.CompleteEntry(context.Background(), "q-2", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`status NOT IN \('completed', 'failed'\)`).
		WithArgs("q-1", fixedNow, "model timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.FailEntry(context.Background(), "q-1", "model timeout")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetField_WithContext(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM list_fields WHERE id = \$1`).
		WithArgs("f-summary").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "list_id", "name", "type", "source_type", "file_property", "prompt",
			"language_model", "language_provider", "failure_terms", "use_markdown", "position",
		}).AddRow("f-summary", "list-1", "Summary", model.FieldTypeText, model.SourceLLMComputed, model.FileProperty(""),
			"Summarize {{Company}}", "claude-haiku-4-5", "anthropic", "unknown, n/a", true, 2))
	mock.ExpectQuery(`(?s)FROM list_field_contexts c.*LEFT JOIN list_fields cf.*ORDER BY c\.position`).
		WithArgs("f-summary").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "context_type", "query_template", "url_template", "max_chunks", "max_distance", "max_content_tokens",
			"cf_id", "cf_name", "cf_type", "cf_source_type", "cf_file_property",
		}).
			AddRow("ctx-1", model.ContextFieldReference, "", "", 0, 0.0, 0,
				strPtr("f-company"), strPtr("Company"), strPtr("string"), strPtr("file_property"), strPtr("itemName")).
			AddRow("ctx-2", model.ContextVectorSearch, "{{Company}} revenue", "", 5, 0.4, 0,
				(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil)))

	f, err := s.GetField(context.Background(), "f-summary")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsComputed())
	assert.True(t, f.UseMarkdown)
	assert.Equal(t, 2, f.Order)
	require.Len(t, f.Context, 2)

	ref := f.Context[0].ContextField
	require.NotNil(t, ref)
	assert.Equal(t, "f-company", ref.ID)
	assert.Equal(t, model.FilePropertyItemName, ref.FileProperty)
	assert.Equal(t, model.SourceFileProperty, ref.SourceType)

	assert.Nil(t, f.Context[1].ContextField)
	assert.Equal(t, 5, f.Context[1].MaxChunks)
	assert.InDelta(t, 0.4, f.Context[1].MaxDistance, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetField_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM list_fields WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	f, err := s.GetField(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCacheEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	yes := true

	mock.ExpectQuery(`FROM list_item_cache WHERE item_id = \$1 AND field_id = \$2`).
		WithArgs("item-1", "f-public").
		WillReturnRows(pgxmock.NewRows(cacheColumns).AddRow(
			"c-1", "item-1", "f-public", (*string)(nil), (*float64)(nil), &yes, (*time.Time)(nil),
			(*string)(nil), (*string)(nil), fixedNow,
		))

	e, err := s.GetCacheEntry(context.Background(), "item-1", "f-public")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.SlotBoolean, e.Slot())
	assert.Equal(t, true, e.Value())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCacheEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	n := 120.0

	mock.ExpectExec(`(?s)INSERT INTO list_item_cache.*ON CONFLICT \(item_id, field_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "item-1", "f-emp", (*string)(nil), &n, (*bool)(nil), (*time.Time)(nil),
			(*string)(nil), (*string)(nil), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry := &model.CacheEntry{ItemID: "item-1", FieldID: "f-emp", ValueNumber: &n}
	require.NoError(t, s.UpsertCacheEntry(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCacheEntry_RejectsTwoSlots(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	n := 1.0
	v := "one"

	err := s.UpsertCacheEntry(context.Background(), &model.CacheEntry{ItemID: "item-1", FieldID: "f-emp", ValueNumber: &n, ValueString: &v})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 value slots")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetProcessingEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'pending', started_at = NULL WHERE status = 'processing'`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ResetProcessingEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
