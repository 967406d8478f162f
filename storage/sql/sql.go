// Package sql provides a shared database/sql implementation of
// storage.Store, parameterized over a Dialect so sqlite/postgres/mysql
// can each supply only their placeholder syntax, column types, and
// upsert clause.
package sql

import (
	"context"
	"database/sql"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

// Store implements storage.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already-open *sql.DB with a Dialect.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Init(ctx context.Context) error {
	return Migrate(ctx, s.db, s.dialect)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DeviceConfigStore() storage.DeviceConfigStore     { return (*deviceConfigStore)(s) }
func (s *Store) ContactStore() storage.ContactStore               { return (*contactStore)(s) }
func (s *Store) ConversationStore() storage.ConversationStore     { return (*conversationStore)(s) }
func (s *Store) DeviceIdentityStore() storage.DeviceIdentityStore { return (*deviceIdentityStore)(s) }
func (s *Store) ChatMessageStore() storage.ChatMessageStore       { return (*chatMessageStore)(s) }
func (s *Store) JobStore() storage.JobStore                       { return (*jobStore)(s) }

// ph returns the dialect placeholder for the nth (1-indexed) parameter.
func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

// phs returns count comma-separated placeholders starting at position
// start.
func (s *Store) phs(start, count int) string {
	out := ""
	for i := 0; i < count; i++ {
		if i > 0 {
			out += ", "
		}
		out += s.dialect.Placeholder(start + i)
	}
	return out
}
