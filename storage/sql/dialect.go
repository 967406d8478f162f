package sql

// Dialect abstracts the database-specific SQL differences among the
// backends that embed this package: sqlite, postgres, mysql.
type Dialect interface {
	// Name identifies the dialect ("sqlite", "postgres", "mysql").
	Name() string

	// Placeholder returns the parameter placeholder for the nth
	// parameter (1-indexed). sqlite/mysql return "?"; postgres returns
	// "$1", "$2", ...
	Placeholder(n int) string

	// AutoIncrement returns the column type for an auto-incrementing
	// primary key, unused here since every entity key is a UUID, but
	// kept for parity with the migration-table surrogate key.
	AutoIncrement() string

	// Migrations returns this dialect's ordered migration statements.
	Migrations() []string

	// UpsertSuffix returns the dialect-specific upsert clause appended
	// to an INSERT statement.
	UpsertSuffix(conflictColumns []string, updateColumns []string) string

	BlobType() string
	TimestampType() string
	TextType() string
	Now() string
}
