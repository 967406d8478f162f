package messenger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/envelope"
	"github.com/orlandos-nl/cyphertextkit/hooks"
	"github.com/orlandos-nl/cyphertextkit/model"
)

// SendText composes and durably enqueues a text message addressed to
// target. It is persisted immediately (unless policy says otherwise)
// and handed to the job queue for delivery, so the call returns as
// soon as the message is safely on disk.
func (m *Messenger) SendText(ctx context.Context, target model.MessageTarget, text string, metadata map[string]any) (*model.ChatMessage, error) {
	if target.Kind == model.TargetCurrentUser {
		return nil, fmt.Errorf("%w: cannot address an outbound send at the current-user sync channel directly", cyphertextkit.ErrBadInput)
	}

	conv, err := m.conversationFor(ctx, target)
	if err != nil {
		return nil, err
	}

	order := conv.LocalOrder + 1
	now := time.Now()
	chatMsg := &model.ChatMessage{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       m.local.SenderID,
		Order:          order,
		RemoteID:       uuid.NewString(),
		SendDate:       now,
		DeliveryState:  model.DeliveryUndelivered,
		MessageType:    model.MessageTypeText,
		Text:           text,
		Metadata:       metadata,
		SenderUser:     m.local.Username,
		SenderDeviceID: m.local.DeviceID,
	}

	decision := m.hooks.SendPolicy(ctx, target, chatMsg)
	if decision == hooks.SaveAndSend {
		if _, err := m.SaveChatMessage(ctx, chatMsg); err != nil {
			return nil, err
		}
		conv.LocalOrder = order
		if err := m.saveConversation(ctx, conv); err != nil {
			return nil, err
		}
	}

	job, err := newSendChatJob(target, wireMessage{
		Type:     chatMsg.MessageType,
		Text:     chatMsg.Text,
		Metadata: chatMsg.Metadata,
		SentDate: now,
		Order:    order,
		RemoteID: chatMsg.RemoteID,
		GroupID:  target.GroupID,
	}, false)
	if err != nil {
		return nil, err
	}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return chatMsg, nil
}

// MarkRead reports to the sender that the locally stored message
// identified by remoteID has been displayed, and advances its own copy
// to DeliveryRead.
func (m *Messenger) MarkRead(ctx context.Context, remoteID string) error {
	msg, ok, err := m.FindChatMessageByRemoteID(ctx, remoteID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: unknown message", cyphertextkit.ErrBadInput)
	}

	if err := m.transport.SendMessageReadReceipt(ctx, msg.SenderUser, msg.SenderDeviceID, remoteID); err != nil {
		return err
	}
	m.enqueueDeliveryAdvance(ctx, remoteID, model.DeliveryRead, "")
	return nil
}

func (m *Messenger) conversationFor(ctx context.Context, target model.MessageTarget) (*model.Conversation, error) {
	switch target.Kind {
	case model.TargetOtherUser:
		return m.OpenPrivateConversation(ctx, m.local.Username, target.Username)
	case model.TargetGroupChat:
		return m.OpenGroupConversation(ctx, target.GroupID)
	default:
		return nil, fmt.Errorf("%w: unknown target kind", cyphertextkit.ErrBadInput)
	}
}

// resolveRecipients gathers every device that should receive a copy of
// a message addressed at target: the peer's (or group members')
// devices, plus the sender's own sibling devices, excluding the local
// device itself.
func (m *Messenger) resolveRecipients(ctx context.Context, target model.MessageTarget) ([]envelope.Recipient, error) {
	usernames := map[string]struct{}{m.local.Username: {}}
	switch target.Kind {
	case model.TargetOtherUser:
		usernames[target.Username] = struct{}{}
	case model.TargetGroupChat:
		conv, err := m.OpenGroupConversation(ctx, target.GroupID)
		if err != nil {
			return nil, err
		}
		for u := range conv.Members {
			usernames[u] = struct{}{}
		}
	}

	names := make([]string, 0, len(usernames))
	for u := range usernames {
		names = append(names, u)
	}

	byUser, err := m.identity.FetchDeviceIdentitiesBulk(ctx, names)
	if err != nil {
		return nil, err
	}

	var recipients []envelope.Recipient
	for username, devices := range byUser {
		for _, d := range devices {
			if username == m.local.Username && d.DeviceID == m.local.DeviceID {
				continue
			}
			recipients = append(recipients, envelope.Recipient{Device: d})
		}
	}
	return recipients, nil
}
