package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/ingest/internal/model"
)

func TestPostgresStore_GetOrCreateOrder_ReturnsExistingWhenFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newPostgresStoreWithDB(db)
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("existing-id")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM orders WHERE source_code = $1 AND order_number = $2 AND order_date = $3`)).
		WithArgs("msrf", "123", date).
		WillReturnRows(rows)

	id, err := s.GetOrCreateOrder(context.Background(), "msrf", "123", date, model.OrderTypeOrder, "title", "https://x/y", "")
	require.NoError(t, err)
	assert.Equal(t, "existing-id", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CheckFileExists_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newPostgresStoreWithDB(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM orders WHERE file_hash = $1`)).
		WithArgs("deadbeef").
		WillReturnError(sql.ErrNoRows)

	id, ok, err := s.CheckFileExists(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestPostgresStore_LogProcessing_NeverReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newPostgresStoreWithDB(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO processing_log`)).
		WillReturnError(errors.New("insert failed"))

	err = s.LogProcessing(context.Background(), "order-1", "msrf", model.LogError, model.StageOCR, "boom", nil)
	assert.NoError(t, err)
}

func TestPostgresStore_SaveAssignments_SkipsInvalidRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newPostgresStoreWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM assignments WHERE order_id = $1`)).
		WithArgs("order-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO assignments`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	records := []model.Assignment{
		{FIO: "", RankCategory: "МС"},                    // invalid: empty fio, skipped
		{FIO: "Иванов Иван Иванович", RankCategory: "КМС"}, // valid, inserted
	}

	err = s.SaveAssignments(context.Background(), "order-1", records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
