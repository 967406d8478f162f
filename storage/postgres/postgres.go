// Package postgres provides a PostgreSQL storage.Store backend.
package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	cyphertextsql "github.com/orlandos-nl/cyphertextkit/storage/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect implements cyphertextsql.Dialect for PostgreSQL.
type Dialect struct{}

func (Dialect) Name() string               { return "postgres" }
func (Dialect) Placeholder(n int) string   { return fmt.Sprintf("$%d", n) }
func (Dialect) AutoIncrement() string      { return "BIGSERIAL PRIMARY KEY" }
func (Dialect) BlobType() string           { return "BYTEA" }
func (Dialect) TimestampType() string      { return "TIMESTAMPTZ" }
func (Dialect) TextType() string           { return "TEXT" }
func (Dialect) Now() string                { return "NOW()" }

func (Dialect) UpsertSuffix(conflictColumns []string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO NOTHING"
	}
	sets := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		sets[i] = col + " = EXCLUDED." + col
	}
	return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

func (d Dialect) Migrations() []string { return cyphertextsql.CommonMigrations(d) }

// New opens a PostgreSQL database via the pgx stdlib driver.
func New(dsn string) (*cyphertextsql.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return cyphertextsql.New(db, Dialect{}), nil
}
