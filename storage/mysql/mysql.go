// Package mysql provides a MySQL storage.Store backend.
package mysql

import (
	"database/sql"
	"fmt"
	"strings"

	cyphertextsql "github.com/orlandos-nl/cyphertextkit/storage/sql"

	_ "github.com/go-sql-driver/mysql"
)

// Dialect implements cyphertextsql.Dialect for MySQL.
type Dialect struct{}

func (Dialect) Name() string             { return "mysql" }
func (Dialect) Placeholder(_ int) string { return "?" }
func (Dialect) AutoIncrement() string    { return "BIGINT PRIMARY KEY AUTO_INCREMENT" }
func (Dialect) BlobType() string         { return "LONGBLOB" }
func (Dialect) TimestampType() string    { return "DATETIME(6)" }
func (Dialect) TextType() string         { return "VARCHAR(191)" }
func (Dialect) Now() string              { return "NOW(6)" }

func (Dialect) UpsertSuffix(conflictColumns []string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return "ON DUPLICATE KEY UPDATE " + conflictColumns[0] + " = " + conflictColumns[0]
	}
	sets := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		sets[i] = col + " = VALUES(" + col + ")"
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (d Dialect) Migrations() []string { return cyphertextsql.CommonMigrations(d) }

// New opens a MySQL database via go-sql-driver/mysql. parseTime is
// forced on since ScheduledAt round-trips as time.Time.
func New(dsn string) (*cyphertextsql.Store, error) {
	db, err := sql.Open("mysql", dsn+"?parseTime=true")
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	return cyphertextsql.New(db, Dialect{}), nil
}
