package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sportrank/ingest/internal/model"
)

// NullStore is the dry-run backend used when no DATABASE_URL is
// configured: every write is a no-op and GetOrCreateOrder mints a fresh
// synthetic id, so a single file can be processed without a database
// per spec.md §4.9's "store's absence is permitted".
type NullStore struct {
	counter atomic.Int64
}

// NewNull returns a NullStore.
func NewNull() *NullStore {
	return &NullStore{}
}

func (s *NullStore) GetOrCreateOrder(_ context.Context, _, _ string, _ time.Time, _ model.OrderType, _, _, _ string) (string, error) {
	s.counter.Add(1)
	return "dryrun-" + uuid.NewString(), nil
}

func (s *NullStore) UpdateOrderStatus(_ context.Context, _ string, _ OrderStatusUpdate) error {
	return nil
}

func (s *NullStore) SaveAssignments(_ context.Context, _ string, _ []model.Assignment) error {
	return nil
}

func (s *NullStore) LogProcessing(_ context.Context, _, _ string, _ model.LogLevel, _ model.Stage, _ string, _ map[string]any) error {
	return nil
}

func (s *NullStore) GetPendingOrders(_ context.Context, _ int) ([]model.Order, error) {
	return nil, nil
}

func (s *NullStore) CheckFileExists(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (s *NullStore) GetOrder(_ context.Context, orderID string) (*model.Order, error) {
	return &model.Order{ID: orderID, Status: model.StatusNew}, nil
}

func (s *NullStore) KnownURLs(_ context.Context, _ string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *NullStore) Close() error { return nil }
