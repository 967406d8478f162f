// Package sqlite provides a SQLite storage.Store backend, using
// database/sql with WAL mode enabled for concurrent readers.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	cyphertextsql "github.com/orlandos-nl/cyphertextkit/storage/sql"

	_ "github.com/mattn/go-sqlite3"
)

// Dialect implements cyphertextsql.Dialect for SQLite.
type Dialect struct{}

func (Dialect) Name() string             { return "sqlite" }
func (Dialect) Placeholder(_ int) string { return "?" }
func (Dialect) AutoIncrement() string    { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (Dialect) BlobType() string         { return "BLOB" }
func (Dialect) TimestampType() string    { return "DATETIME" }
func (Dialect) TextType() string         { return "TEXT" }
func (Dialect) Now() string              { return "datetime('now')" }

func (Dialect) UpsertSuffix(conflictColumns []string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO NOTHING"
	}
	sets := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		sets[i] = col + " = excluded." + col
	}
	return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

func (d Dialect) Migrations() []string { return cyphertextsql.CommonMigrations(d) }

// New opens a SQLite database at dsn with WAL mode and foreign keys
// enabled.
func New(dsn string) (*cyphertextsql.Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return cyphertextsql.New(db, Dialect{}), nil
}
