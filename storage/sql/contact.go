package sql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

type contactStore Store

func (c *contactStore) PutContact(ctx context.Context, rec storage.ContactRecord) error {
	s := (*Store)(c)
	q := "INSERT INTO contacts (id, username, props) VALUES (" + s.phs(1, 3) + ") " +
		s.dialect.UpsertSuffix([]string{"id"}, []string{"username", "props"})
	_, err := s.db.ExecContext(ctx, q, rec.ID.String(), rec.Username, rec.Props)
	return err
}

func scanContact(scan func(dest ...any) error) (storage.ContactRecord, bool, error) {
	var rec storage.ContactRecord
	var idStr string
	err := scan(&idStr, &rec.Username, &rec.Props)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ContactRecord{}, false, nil
	}
	if err != nil {
		return storage.ContactRecord{}, false, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return storage.ContactRecord{}, false, err
	}
	rec.ID = id
	return rec, true, nil
}

func (c *contactStore) GetContact(ctx context.Context, id uuid.UUID) (storage.ContactRecord, bool, error) {
	s := (*Store)(c)
	row := s.db.QueryRowContext(ctx, "SELECT id, username, props FROM contacts WHERE id = "+s.ph(1), id.String())
	return scanContact(row.Scan)
}

func (c *contactStore) GetContactByUsername(ctx context.Context, username string) (storage.ContactRecord, bool, error) {
	s := (*Store)(c)
	row := s.db.QueryRowContext(ctx, "SELECT id, username, props FROM contacts WHERE username = "+s.ph(1), username)
	return scanContact(row.Scan)
}

func (c *contactStore) DeleteContact(ctx context.Context, id uuid.UUID) error {
	s := (*Store)(c)
	_, err := s.db.ExecContext(ctx, "DELETE FROM contacts WHERE id = "+s.ph(1), id.String())
	return err
}
