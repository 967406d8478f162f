package messenger

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/keystore"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/storage"
)

// conversationNamespace seeds the deterministic conversation ids derived
// below, so every device of a user independently computes the same
// Conversation.ID for the same pair or group without a round trip.
var conversationNamespace = uuid.MustParse("6f6e2b2e-7b0b-4a8a-9f2e-2f7c9d9a9a10")

// internalChatID is the fixed conversation id for the current-user sync
// channel: the one conversation every device of a user shares with its
// siblings.
var internalChatID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func privateConversationID(a, b string) uuid.UUID {
	members := []string{a, b}
	sort.Strings(members)
	return uuid.NewSHA1(conversationNamespace, []byte("private:"+strings.Join(members, "\x00")))
}

func groupConversationID(groupID string) uuid.UUID {
	return uuid.NewSHA1(conversationNamespace, []byte("group:"+groupID))
}

func (m *Messenger) SaveChatMessage(ctx context.Context, msg *model.ChatMessage) (bool, error) {
	if msg.RemoteID != "" {
		if _, ok, err := m.FindChatMessageByRemoteID(ctx, msg.RemoteID); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}

	sealed, err := keystore.Seal(msg, m.key)
	if err != nil {
		return false, err
	}
	err = m.store.ChatMessageStore().PutChatMessage(ctx, storage.ChatMessageRecord{
		Record:         storage.Record{ID: msg.ID, Props: sealed},
		ConversationID: msg.ConversationID,
		RemoteID:       msg.RemoteID,
		Order:          msg.Order,
		SenderID:       msg.SenderID,
	})
	if err != nil {
		return false, err
	}
	m.hooks.NotifyMessageChange(ctx, msg)
	return false, nil
}

// updateChatMessage re-persists an already-known ChatMessage, e.g. after
// its DeliveryState advanced. Unlike SaveChatMessage it carries no
// duplicate-RemoteID guard: it is only ever called with a message already
// loaded from the store.
func (m *Messenger) updateChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	sealed, err := keystore.Seal(msg, m.key)
	if err != nil {
		return err
	}
	if err := m.store.ChatMessageStore().PutChatMessage(ctx, storage.ChatMessageRecord{
		Record:         storage.Record{ID: msg.ID, Props: sealed},
		ConversationID: msg.ConversationID,
		RemoteID:       msg.RemoteID,
		Order:          msg.Order,
		SenderID:       msg.SenderID,
	}); err != nil {
		return err
	}
	m.hooks.NotifyMessageChange(ctx, msg)
	return nil
}

func (m *Messenger) FindChatMessageByRemoteID(ctx context.Context, remoteID string) (*model.ChatMessage, bool, error) {
	rec, ok, err := m.store.ChatMessageStore().GetChatMessageByRemoteID(ctx, remoteID)
	if err != nil || !ok {
		return nil, false, err
	}
	var msg model.ChatMessage
	if err := keystore.Open(rec.Props, m.key, &msg); err != nil {
		return nil, false, err
	}
	return &msg, true, nil
}

func (m *Messenger) OpenPrivateConversation(ctx context.Context, selfUsername, otherUsername string) (*model.Conversation, error) {
	id := privateConversationID(selfUsername, otherUsername)
	return m.loadOrCreateConversation(ctx, id, func() *model.Conversation {
		return &model.Conversation{
			ID:       id,
			Members:  memberSet(selfUsername, otherUsername),
			Metadata: m.hooks.PrivateChatMetadata(ctx, otherUsername),
		}
	})
}

func (m *Messenger) OpenGroupConversation(ctx context.Context, groupID string) (*model.Conversation, error) {
	id := groupConversationID(groupID)
	return m.loadOrCreateConversation(ctx, id, func() *model.Conversation {
		return &model.Conversation{ID: id, Members: map[string]struct{}{}}
	})
}

func (m *Messenger) InternalChatConversation(ctx context.Context) (*model.Conversation, error) {
	return m.loadOrCreateConversation(ctx, internalChatID, func() *model.Conversation {
		return &model.Conversation{ID: internalChatID, Members: memberSet(m.local.Username)}
	})
}

// saveConversation persists conv's current state, e.g. after LocalOrder
// advances on a new outbound message.
func (m *Messenger) saveConversation(ctx context.Context, conv *model.Conversation) error {
	sealed, err := keystore.Seal(conv, m.key)
	if err != nil {
		return err
	}
	return m.store.ConversationStore().PutConversation(ctx, storage.ConversationRecord{
		Record: storage.Record{ID: conv.ID, Props: sealed},
	})
}

func (m *Messenger) loadOrCreateConversation(ctx context.Context, id uuid.UUID, create func() *model.Conversation) (*model.Conversation, error) {
	rec, ok, err := m.store.ConversationStore().GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		var conv model.Conversation
		if err := keystore.Open(rec.Props, m.key, &conv); err != nil {
			return nil, err
		}
		return &conv, nil
	}

	conv := create()
	sealed, err := keystore.Seal(conv, m.key)
	if err != nil {
		return nil, err
	}
	if err := m.store.ConversationStore().PutConversation(ctx, storage.ConversationRecord{
		Record: storage.Record{ID: conv.ID, Props: sealed},
	}); err != nil {
		return nil, err
	}
	m.hooks.NotifyCreateConversation(ctx, conv)
	return conv, nil
}

func memberSet(usernames ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		out[u] = struct{}{}
	}
	return out
}
