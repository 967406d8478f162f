package sql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

type conversationStore Store

func (c *conversationStore) PutConversation(ctx context.Context, rec storage.ConversationRecord) error {
	s := (*Store)(c)
	q := "INSERT INTO conversations (id, props) VALUES (" + s.phs(1, 2) + ") " +
		s.dialect.UpsertSuffix([]string{"id"}, []string{"props"})
	_, err := s.db.ExecContext(ctx, q, rec.ID.String(), rec.Props)
	return err
}

func (c *conversationStore) GetConversation(ctx context.Context, id uuid.UUID) (storage.ConversationRecord, bool, error) {
	s := (*Store)(c)
	var idStr string
	var props []byte
	err := s.db.QueryRowContext(ctx, "SELECT id, props FROM conversations WHERE id = "+s.ph(1), id.String()).Scan(&idStr, &props)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ConversationRecord{}, false, nil
	}
	if err != nil {
		return storage.ConversationRecord{}, false, err
	}
	parsed, err := uuid.Parse(idStr)
	if err != nil {
		return storage.ConversationRecord{}, false, err
	}
	return storage.ConversationRecord{Record: storage.Record{ID: parsed, Props: props}}, true, nil
}
