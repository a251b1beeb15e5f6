package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/ingest/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_GetOrCreateOrder_IsIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	id1, err := s.GetOrCreateOrder(ctx, "msrf", "45", date, model.OrderTypeOrder, "t", "https://a/b", "")
	require.NoError(t, err)

	id2, err := s.GetOrCreateOrder(ctx, "msrf", "45", date, model.OrderTypeOrder, "t", "https://a/b", "")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestSQLiteStore_CheckFileExists(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	id, err := s.GetOrCreateOrder(ctx, "msrf", "46", date, model.OrderTypeOrder, "t", "", "")
	require.NoError(t, err)
	require.NoError(t, s.UpdateOrderStatus(ctx, id, OrderStatusUpdate{Status: model.StatusDownloaded, FileHash: "abc123"}))

	found, ok, err := s.CheckFileExists(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	_, ok, err = s.CheckFileExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_SaveAssignments_ReplacesPriorSet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	id, err := s.GetOrCreateOrder(ctx, "msrf", "47", date, model.OrderTypeOrder, "t", "", "")
	require.NoError(t, err)

	first := []model.Assignment{{FIO: "Иванов И.И.", RankCategory: "КМС"}}
	require.NoError(t, s.SaveAssignments(ctx, id, first))

	second := []model.Assignment{
		{FIO: "Петров П.П.", RankCategory: "МС"},
		{FIO: "Сидоров С.С.", RankCategory: "МСМК"},
	}
	require.NoError(t, s.SaveAssignments(ctx, id, second))

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE order_id = ?`, id)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSQLiteStore_GetPendingOrders_FiltersByStatus(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	id1, err := s.GetOrCreateOrder(ctx, "msrf", "48", date, model.OrderTypeOrder, "t", "", "")
	require.NoError(t, err)
	_, err = s.GetOrCreateOrder(ctx, "msrf", "49", date, model.OrderTypeOrder, "t", "", "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateOrderStatus(ctx, id1, OrderStatusUpdate{Status: model.StatusExtracted}))

	pending, err := s.GetPendingOrders(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, "49", pending[0].OrderNumber)
}

func TestSQLiteStore_KnownURLs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.GetOrCreateOrder(ctx, "msrf", "50", date, model.OrderTypeOrder, "t", "https://x/list", "https://x/file.pdf")
	require.NoError(t, err)

	known, err := s.KnownURLs(ctx, "msrf")
	require.NoError(t, err)
	assert.Contains(t, known, "https://x/file.pdf")
	assert.Contains(t, known, "https://x/list")
}

func TestNullStore_GetOrCreateOrder_MintsSyntheticID(t *testing.T) {
	s := NewNull()
	id, err := s.GetOrCreateOrder(context.Background(), "msrf", "1", time.Now(), model.OrderTypeOrder, "", "", "")
	require.NoError(t, err)
	assert.Contains(t, id, "dryrun-")
}
