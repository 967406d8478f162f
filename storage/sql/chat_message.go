package sql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

type chatMessageStore Store

func (c *chatMessageStore) PutChatMessage(ctx context.Context, rec storage.ChatMessageRecord) error {
	s := (*Store)(c)
	q := "INSERT INTO chat_messages (id, conversation_id, remote_id, message_order, sender_id, props) VALUES (" + s.phs(1, 6) + ") " +
		s.dialect.UpsertSuffix([]string{"id"}, []string{"conversation_id", "remote_id", "message_order", "sender_id", "props"})
	_, err := s.db.ExecContext(ctx, q, rec.ID.String(), rec.ConversationID.String(), rec.RemoteID, rec.Order, rec.SenderID, rec.Props)
	return err
}

func scanChatMessage(scan func(dest ...any) error) (storage.ChatMessageRecord, bool, error) {
	var idStr, convIDStr string
	var rec storage.ChatMessageRecord
	err := scan(&idStr, &convIDStr, &rec.RemoteID, &rec.Order, &rec.SenderID, &rec.Props)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ChatMessageRecord{}, false, nil
	}
	if err != nil {
		return storage.ChatMessageRecord{}, false, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return storage.ChatMessageRecord{}, false, err
	}
	convID, err := uuid.Parse(convIDStr)
	if err != nil {
		return storage.ChatMessageRecord{}, false, err
	}
	rec.ID = id
	rec.ConversationID = convID
	return rec, true, nil
}

func (c *chatMessageStore) GetChatMessage(ctx context.Context, id uuid.UUID) (storage.ChatMessageRecord, bool, error) {
	s := (*Store)(c)
	row := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, remote_id, message_order, sender_id, props FROM chat_messages WHERE id = "+s.ph(1),
		id.String(),
	)
	return scanChatMessage(row.Scan)
}

func (c *chatMessageStore) GetChatMessageByRemoteID(ctx context.Context, remoteID string) (storage.ChatMessageRecord, bool, error) {
	s := (*Store)(c)
	row := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, remote_id, message_order, sender_id, props FROM chat_messages WHERE remote_id = "+s.ph(1),
		remoteID,
	)
	return scanChatMessage(row.Scan)
}

func (c *chatMessageStore) ListChatMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]storage.ChatMessageRecord, error) {
	s := (*Store)(c)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, remote_id, message_order, sender_id, props FROM chat_messages WHERE conversation_id = "+s.ph(1)+" ORDER BY message_order",
		conversationID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ChatMessageRecord
	for rows.Next() {
		rec, _, err := scanChatMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
