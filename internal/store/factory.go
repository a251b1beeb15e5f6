package store

import "strings"

// New selects a Store backend from a DATABASE_URL-shaped connection
// string: a postgres:// DSN opens PostgresStore, any other non-empty
// value is treated as a SQLite file path, and an empty string falls
// back to NullStore's dry-run no-ops (spec.md §4.9).
func New(databaseURL string) (Store, error) {
	switch {
	case databaseURL == "":
		return NewNull(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(databaseURL)
	default:
		return NewSQLiteStore(databaseURL)
	}
}
