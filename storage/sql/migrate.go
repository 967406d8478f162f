package sql

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies every pending migration from dialect.Migrations(),
// tracking applied versions in a cyphertext_migrations table.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cyphertext_migrations (
		version INTEGER PRIMARY KEY,
		applied_at `+dialect.TimestampType()+` DEFAULT (`+dialect.Now()+`)
	)`)
	if err != nil {
		return fmt.Errorf("sql: create migrations table: %w", err)
	}

	migrations := dialect.Migrations()
	for i, m := range migrations {
		version := i + 1

		var count int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cyphertext_migrations WHERE version = "+dialect.Placeholder(1), version).Scan(&count)
		if err != nil {
			return fmt.Errorf("sql: check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sql: begin migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, m); err != nil {
			tx.Rollback()
			return fmt.Errorf("sql: run migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO cyphertext_migrations (version) VALUES ("+dialect.Placeholder(1)+")", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("sql: record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sql: commit migration %d: %w", version, err)
		}
	}

	return nil
}

// CommonMigrations returns the dialect-agnostic schema, parameterized on
// the blob/timestamp/text column types dialect supplies. One table per
// entity kind, mirroring the sealed-record shape: an id, a props blob,
// and that entity's unencrypted secondary index columns. Each concrete
// dialect package (sqlite, postgres, mysql) calls this from its own
// Migrations() method.
func CommonMigrations(d Dialect) []string {
	blob, ts, text := d.BlobType(), d.TimestampType(), d.TextType()
	return []string{
		`CREATE TABLE IF NOT EXISTS device_singleton (
			k ` + text + ` PRIMARY KEY,
			v ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id ` + text + ` PRIMARY KEY,
			username ` + text + ` NOT NULL UNIQUE,
			props ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id ` + text + ` PRIMARY KEY,
			props ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS device_identities (
			id ` + text + ` PRIMARY KEY,
			username ` + text + ` NOT NULL,
			device_id ` + text + ` NOT NULL,
			props ` + blob + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_device_identities_username ON device_identities (username)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_device_identities_user_dev ON device_identities (username, device_id)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id ` + text + ` PRIMARY KEY,
			conversation_id ` + text + ` NOT NULL,
			remote_id ` + text + ` NOT NULL,
			message_order INTEGER NOT NULL,
			sender_id BIGINT NOT NULL,
			props ` + blob + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_conv ON chat_messages (conversation_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_messages_remote ON chat_messages (remote_id)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id ` + text + ` PRIMARY KEY,
			scheduled_at ` + ts + ` NOT NULL,
			props ` + blob + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_scheduled_at ON jobs (scheduled_at)`,
	}
}
