package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/sportrank/ingest/internal/model"
)

// pgSchema creates every table the spec's §6 schema names, matching the
// teacher's schema-as-const style (core/pkg/registry/postgres_registry.go).
const pgSchema = `
CREATE TABLE IF NOT EXISTS registry_sources (
	id TEXT PRIMARY KEY,
	code TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	region TEXT,
	source_type TEXT,
	risk_class TEXT,
	active BOOLEAN NOT NULL DEFAULT true,
	discovery_config JSONB,
	official_basis TEXT,
	last_page_hash TEXT,
	last_etag TEXT,
	last_checked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	source_id TEXT REFERENCES registry_sources(id),
	source_code TEXT NOT NULL,
	order_number TEXT NOT NULL,
	order_date DATE NOT NULL,
	order_type TEXT NOT NULL,
	title TEXT,
	source_url TEXT,
	file_url TEXT,
	file_hash TEXT UNIQUE,
	status TEXT NOT NULL DEFAULT 'new',
	page_count INT,
	ocr_method TEXT,
	ocr_confidence DOUBLE PRECISION,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	extracted_at TIMESTAMPTZ,
	UNIQUE (source_code, order_number, order_date)
);
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	fio TEXT NOT NULL,
	birth_date DATE,
	birth_date_raw TEXT,
	ias_id TEXT,
	submission_number TEXT,
	assignment_type TEXT,
	rank_category TEXT,
	rank_category_original TEXT,
	sport TEXT,
	sport_original TEXT,
	sport_id TEXT,
	action TEXT,
	extra_fields JSONB,
	extractor_tag TEXT,
	confidence DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_assignments_fio ON assignments(fio);
CREATE INDEX IF NOT EXISTS idx_assignments_sport ON assignments(sport);

CREATE TABLE IF NOT EXISTS processing_log (
	id TEXT PRIMARY KEY,
	order_id TEXT,
	source_code TEXT,
	level TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_processing_log_source_created ON processing_log(source_code, created_at DESC);
`

// PostgresStore is the lib/pq + database/sql backend, used whenever
// DATABASE_URL starts with postgres://.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and applies the schema. Pool
// sizing (5 + 10 overflow) matches spec.md §5's stated default.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)

	s := &PostgresStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newPostgresStoreWithDB wraps an already-open *sql.DB (go-sqlmock in
// tests) without re-running schema creation against the mock.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) init() error {
	_, err := s.db.Exec(pgSchema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetOrCreateOrder is idempotent on (source, number, date): a second call
// with the same triple returns the existing id rather than inserting a
// duplicate row, via the ON CONFLICT upsert the teacher uses for rollout
// records.
func (s *PostgresStore) GetOrCreateOrder(ctx context.Context, sourceCode, number string, date time.Time, orderType model.OrderType, title, sourceURL, fileURL string) (string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE source_code = $1 AND order_number = $2 AND order_date = $3`,
		sourceCode, number, date,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup order: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, source_code, order_number, order_date, order_type, title, source_url, file_url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'new', $9)
		 ON CONFLICT (source_code, order_number, order_date) DO NOTHING`,
		id, sourceCode, number, date, string(orderType), title, sourceURL, fileURL, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	// Another writer may have raced us between the SELECT and the INSERT;
	// re-read to return whichever row actually won.
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE source_code = $1 AND order_number = $2 AND order_date = $3`,
		sourceCode, number, date,
	).Scan(&existing); err != nil {
		return "", fmt.Errorf("reread order: %w", err)
	}
	return existing, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, update OrderStatusUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = COALESCE(NULLIF($1, ''), status), file_hash = COALESCE(NULLIF($2, ''), file_hash),
		 page_count = CASE WHEN $3 > 0 THEN $3 ELSE page_count END,
		 ocr_method = COALESCE(NULLIF($4, ''), ocr_method),
		 ocr_confidence = CASE WHEN $5 > 0 THEN $5 ELSE ocr_confidence END,
		 error_message = COALESCE(NULLIF($6, ''), error_message), extracted_at = COALESCE($7, extracted_at)
		 WHERE id = $8`,
		string(update.Status), update.FileHash, update.PageCount, update.OCRMethod,
		update.OCRConfidence, update.ErrorMessage, update.ExtractedAt, orderID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// SaveAssignments is transactional: the order's prior assignment set is
// deleted, then the new set is inserted; either both succeed or neither
// does, matching spec.md §4.9's atomicity requirement. A malformed
// individual record is skipped and logged rather than aborting the whole
// transaction.
func (s *PostgresStore) SaveAssignments(ctx context.Context, orderID string, records []model.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete prior assignments: %w", err)
	}

	for _, a := range records {
		if !a.Valid() {
			slog.WarnContext(ctx, "save assignments: skipping invalid record", "order_id", orderID)
			continue
		}
		extras, err := json.Marshal(canonicalizeExtras(a.Extras))
		if err != nil {
			slog.WarnContext(ctx, "save assignments: skipping record with unencodable extras", "order_id", orderID, "error", err)
			continue
		}
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assignments (id, order_id, fio, birth_date, birth_date_raw, ias_id,
			 submission_number, assignment_type, rank_category, rank_category_original,
			 sport, sport_original, sport_id, action, extra_fields, extractor_tag, confidence, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			id, orderID, a.FIO, a.BirthDate, a.BirthDateRaw, a.IASID, a.SubmissionNumber,
			string(a.AssignmentKind), a.RankCategory, a.RankCategoryOriginal, a.Sport,
			a.SportOriginal, a.SportID, string(a.Action), extras, a.ExtractorTag, a.Confidence, time.Now().UTC(),
		)
		if err != nil {
			slog.WarnContext(ctx, "save assignments: skipping record after insert failure", "order_id", orderID, "error", err)
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignments: %w", err)
	}
	return nil
}

// LogProcessing is best-effort: a failure here must never cascade into a
// pipeline failure, so it returns nil even when the insert errors, after
// truncating the message per model.MaxLogMessageLen.
func (s *PostgresStore) LogProcessing(ctx context.Context, orderID, sourceCode string, level model.LogLevel, stage model.Stage, message string, details map[string]any) error {
	detailsJSON, _ := json.Marshal(details)
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO processing_log (id, order_id, source_code, level, stage, message, details, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.NewString(), nullableID(orderID), sourceCode, string(level), string(stage),
		truncateMessage(message), detailsJSON, time.Now().UTC(),
	)
	return nil
}

func (s *PostgresStore) GetPendingOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_code, order_number, order_date, order_type, title, source_url, file_url, status, created_at
		 FROM orders WHERE status IN ('new', 'downloaded') ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var orderType, status string
		if err := rows.Scan(&o.ID, &o.SourceCode, &o.OrderNumber, &o.OrderDate, &orderType,
			&o.Title, &o.SourceURL, &o.FileURL, &status, &o.CreatedAt); err != nil {
			continue
		}
		o.OrderType = model.OrderType(orderType)
		o.Status = model.OrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CheckFileExists(ctx context.Context, fileHash string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE file_hash = $1`, fileHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check file exists: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	var orderType, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_code, order_number, order_date, order_type, title, source_url, file_url,
		 COALESCE(file_hash, ''), status, COALESCE(page_count,0), COALESCE(ocr_method,''),
		 COALESCE(ocr_confidence,0), COALESCE(error_message,''), created_at
		 FROM orders WHERE id = $1`, orderID,
	).Scan(&o.ID, &o.SourceCode, &o.OrderNumber, &o.OrderDate, &orderType, &o.Title, &o.SourceURL,
		&o.FileURL, &o.FileHash, &status, &o.PageCount, &o.OCRMethod, &o.OCRConfidence, &o.ErrorMessage, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.OrderType = model.OrderType(orderType)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// KnownURLs answers the change detector's KnownURLs injection point,
// reporting every source_url/file_url already stored for a source.
func (s *PostgresStore) KnownURLs(ctx context.Context, sourceCode string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_url, file_url FROM orders WHERE source_code = $1`, sourceCode)
	if err != nil {
		return nil, fmt.Errorf("known urls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	known := map[string]struct{}{}
	for rows.Next() {
		var sourceURL, fileURL string
		if err := rows.Scan(&sourceURL, &fileURL); err != nil {
			continue
		}
		if fileURL != "" {
			known[fileURL] = struct{}{}
		}
		if sourceURL != "" {
			known[sourceURL] = struct{}{}
		}
	}
	return known, rows.Err()
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
