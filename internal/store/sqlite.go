package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sportrank/ingest/internal/model"
)

// sqliteSchema is pgSchema dialect-adjusted: no JSONB (plain TEXT), no
// partial-index CASCADE syntax, ? placeholders instead of $N.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS registry_sources (
	id TEXT PRIMARY KEY,
	code TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	region TEXT,
	source_type TEXT,
	risk_class TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	discovery_config TEXT,
	official_basis TEXT,
	last_page_hash TEXT,
	last_etag TEXT,
	last_checked_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	source_id TEXT,
	source_code TEXT NOT NULL,
	order_number TEXT NOT NULL,
	order_date DATE NOT NULL,
	order_type TEXT NOT NULL,
	title TEXT,
	source_url TEXT,
	file_url TEXT,
	file_hash TEXT UNIQUE,
	status TEXT NOT NULL DEFAULT 'new',
	page_count INTEGER,
	ocr_method TEXT,
	ocr_confidence REAL,
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	extracted_at DATETIME,
	UNIQUE (source_code, order_number, order_date)
);
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
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
	extra_fields TEXT,
	extractor_tag TEXT,
	confidence REAL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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
	details TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_processing_log_source_created ON processing_log(source_code, created_at DESC);
`

// SQLiteStore is the pure-Go (modernc.org/sqlite, no CGO) backend used for
// local/dev/dry-run processing when DATABASE_URL names a filesystem path
// rather than a postgres:// DSN.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite file at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids "database is
	// locked" errors under the orchestrator's strictly sequential steps.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetOrCreateOrder(ctx context.Context, sourceCode, number string, date time.Time, orderType model.OrderType, title, sourceURL, fileURL string) (string, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE source_code = ? AND order_number = ? AND order_date = ?`,
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
		`INSERT OR IGNORE INTO orders (id, source_code, order_number, order_date, order_type, title, source_url, file_url, status, created_at)
		 VALUES (?,?,?,?,?,?,?,?,'new',?)`,
		id, sourceCode, number, date, string(orderType), title, sourceURL, fileURL, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE source_code = ? AND order_number = ? AND order_date = ?`,
		sourceCode, number, date,
	).Scan(&existing); err != nil {
		return "", fmt.Errorf("reread order: %w", err)
	}
	return existing, nil
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, update OrderStatusUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = CASE WHEN ? <> '' THEN ? ELSE status END,
		 file_hash = CASE WHEN ? <> '' THEN ? ELSE file_hash END,
		 page_count = CASE WHEN ? > 0 THEN ? ELSE page_count END,
		 ocr_method = CASE WHEN ? <> '' THEN ? ELSE ocr_method END,
		 ocr_confidence = CASE WHEN ? > 0 THEN ? ELSE ocr_confidence END,
		 error_message = CASE WHEN ? <> '' THEN ? ELSE error_message END, extracted_at = COALESCE(?, extracted_at)
		 WHERE id = ?`,
		string(update.Status), string(update.Status), update.FileHash, update.FileHash,
		update.PageCount, update.PageCount, update.OCRMethod, update.OCRMethod,
		update.OCRConfidence, update.OCRConfidence, update.ErrorMessage, update.ErrorMessage, update.ExtractedAt, orderID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveAssignments(ctx context.Context, orderID string, records []model.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("delete prior assignments: %w", err)
	}

	for _, a := range records {
		if !a.Valid() {
			continue
		}
		extras, err := json.Marshal(canonicalizeExtras(a.Extras))
		if err != nil {
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
			 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, orderID, a.FIO, a.BirthDate, a.BirthDateRaw, a.IASID, a.SubmissionNumber,
			string(a.AssignmentKind), a.RankCategory, a.RankCategoryOriginal, a.Sport,
			a.SportOriginal, a.SportID, string(a.Action), extras, a.ExtractorTag, a.Confidence, time.Now().UTC(),
		)
		if err != nil {
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogProcessing(ctx context.Context, orderID, sourceCode string, level model.LogLevel, stage model.Stage, message string, details map[string]any) error {
	detailsJSON, _ := json.Marshal(details)
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO processing_log (id, order_id, source_code, level, stage, message, details, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), nullableID(orderID), sourceCode, string(level), string(stage),
		truncateMessage(message), detailsJSON, time.Now().UTC(),
	)
	return nil
}

func (s *SQLiteStore) GetPendingOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_code, order_number, order_date, order_type, title, source_url, file_url, status, created_at
		 FROM orders WHERE status IN ('new', 'downloaded') ORDER BY created_at ASC LIMIT ?`,
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

func (s *SQLiteStore) CheckFileExists(ctx context.Context, fileHash string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE file_hash = ?`, fileHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check file exists: %w", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	var orderType, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_code, order_number, order_date, order_type, title, source_url, file_url,
		 COALESCE(file_hash, ''), status, COALESCE(page_count,0), COALESCE(ocr_method,''),
		 COALESCE(ocr_confidence,0), COALESCE(error_message,''), created_at
		 FROM orders WHERE id = ?`, orderID,
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

func (s *SQLiteStore) KnownURLs(ctx context.Context, sourceCode string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_url, file_url FROM orders WHERE source_code = ?`, sourceCode)
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
