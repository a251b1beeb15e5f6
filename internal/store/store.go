// Package store implements the Store (C9): the persistent catalog of
// sources, orders, assignments and processing logs that every higher
// layer speaks to through the narrow Store contract. Two real backends
// (Postgres, SQLite) and a NullStore dry-run fallback share this
// interface, grounded on the teacher's PostgresRegistry
// (core/pkg/registry/postgres_registry.go) schema-as-const pattern.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sportrank/ingest/internal/model"
)

// ErrOrderNotFound is returned when an order id has no matching row.
var ErrOrderNotFound = errors.New("store: order not found")

// OrderStatusUpdate is a partial update to an order's mutable fields; a
// nil/zero field is left unchanged.
type OrderStatusUpdate struct {
	Status        model.OrderStatus
	FileHash      string
	PageCount     int
	OCRMethod     string
	OCRConfidence float64
	ErrorMessage  string
	ExtractedAt   *time.Time
}

// Store is the contract every pipeline component uses to read and write
// the persistent catalog, matching spec.md §4.9's operation list.
type Store interface {
	GetOrCreateOrder(ctx context.Context, sourceCode, number string, date time.Time, orderType model.OrderType, title, sourceURL, fileURL string) (string, error)
	UpdateOrderStatus(ctx context.Context, orderID string, update OrderStatusUpdate) error
	SaveAssignments(ctx context.Context, orderID string, records []model.Assignment) error
	LogProcessing(ctx context.Context, orderID, sourceCode string, level model.LogLevel, stage model.Stage, message string, details map[string]any) error
	GetPendingOrders(ctx context.Context, limit int) ([]model.Order, error)
	CheckFileExists(ctx context.Context, fileHash string) (string, bool, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	KnownURLs(ctx context.Context, sourceCode string) (map[string]struct{}, error)

	Close() error
}

// truncateMessage enforces the append-only log's 2,000-char cap, matching
// model.MaxLogMessageLen.
func truncateMessage(msg string) string {
	r := []rune(msg)
	if len(r) <= model.MaxLogMessageLen {
		return msg
	}
	return string(r[:model.MaxLogMessageLen])
}
