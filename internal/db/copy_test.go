package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var queueColumns = []string{"id", "list_id", "field_id", "item_id", "status", "priority"}

func TestCopyFrom_NoRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "enrichment_queue", queueColumns, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_InsideTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"enrichment_queue"}, queueColumns).WillReturnResult(2)
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	n, err := CopyFrom(context.Background(), tx, "enrichment_queue", queueColumns, [][]any{
		{"q1", "l1", "f1", "i1", "pending", 0},
		{"q2", "l1", "f1", "i2", "pending", 0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"automation_items"}, []string{"id"}).WillReturnError(errors.New("permission denied"))

	_, err = CopyFrom(context.Background(), mock, "automation_items", []string{"id"}, [][]any{{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: copy into automation_items")
	assert.NoError(t, mock.ExpectationsWereMet())
}
