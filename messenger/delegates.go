package messenger

import (
	"context"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/hooks"
	"github.com/orlandos-nl/cyphertextkit/keystore"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/pipeline"
)

// The methods in this file implement identity.Delegate, session.Delegate,
// pipeline.DeviceRegistry, pipeline.Hooks, pipeline.Receipts, pipeline.P2P
// and queue.Connectivity, rounding out the set of small collaborator
// interfaces Messenger satisfies directly.

// OnContactIdentityChange satisfies identity.Delegate.
func (m *Messenger) OnContactIdentityChange(username string) {
	m.hooks.NotifyContactIdentityChange(context.Background(), username)
}

// EnqueueIgnore satisfies session.Delegate: it asks device to observe a
// fresh handshake by delivering a silent "_/ignore" control message.
func (m *Messenger) EnqueueIgnore(ctx context.Context, device *model.DeviceIdentity) error {
	job, err := newSendMagicJob(device.Username, device.DeviceID, "_/ignore", nil)
	if err != nil {
		return err
	}
	return m.queue.Enqueue(ctx, job)
}

// RequestResend satisfies session.Delegate: it asks device to resend the
// message identified by remoteID over a fresh session.
func (m *Messenger) RequestResend(ctx context.Context, device *model.DeviceIdentity, remoteID string) error {
	return m.enqueueResendMessageRequest(ctx, device.Username, device.DeviceID, remoteID)
}

// OnRekey satisfies session.Delegate.
func (m *Messenger) OnRekey(device *model.DeviceIdentity) {
	m.hooks.NotifyRekey(context.Background(), device)
}

func (m *Messenger) enqueueResendMessageRequest(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error {
	job, err := newSendMagicJob(toUsername, toDeviceID, "_/resend/message", map[string]any{"remoteId": remoteID})
	if err != nil {
		return err
	}
	return m.queue.Enqueue(ctx, job)
}

// CreateDeviceIdentity satisfies pipeline.DeviceRegistry.
func (m *Messenger) CreateDeviceIdentity(ctx context.Context, forUsername string, udc model.UserDeviceConfig) (*model.DeviceIdentity, error) {
	return m.identity.CreateDeviceIdentity(ctx, forUsername, udc)
}

// RenameDevice satisfies pipeline.DeviceRegistry. model.DeviceIdentity
// carries no display-name field, so a sibling device's chosen name is
// recorded in the owning username's Contact.Metadata instead, keyed by
// the renamed device's id.
func (m *Messenger) RenameDevice(ctx context.Context, username string, deviceID uuid.UUID, displayName string) error {
	contact, ok, err := m.GetContact(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		contact = &model.Contact{ID: uuid.New(), Username: username}
	}
	if contact.Metadata == nil {
		contact.Metadata = make(map[string]any, 1)
	}
	contact.Metadata["deviceName:"+deviceID.String()] = displayName
	return m.SaveContact(ctx, contact)
}

// SetOwnRegistryMode satisfies pipeline.DeviceRegistry: it updates and
// persists the local device's registry mode.
func (m *Messenger) SetOwnRegistryMode(ctx context.Context, mode model.RegistryMode) error {
	m.local.RegistryMode = mode
	sealed, err := keystore.Seal(m.local, m.key)
	if err != nil {
		return err
	}
	return m.store.DeviceConfigStore().SaveDeviceConfig(ctx, sealed)
}

// OnReceiveMessage satisfies pipeline.Hooks, translating the application's
// hooks.MessageDecision into a pipeline.Decision.
func (m *Messenger) OnReceiveMessage(ctx context.Context, conv *model.Conversation, msg *model.ChatMessage) pipeline.Decision {
	if m.hooks.ReceiveDecision(ctx, conv, msg) == hooks.Ignore {
		return pipeline.DecisionIgnore
	}
	return pipeline.DecisionSave
}

// EnqueueReceivedReceipt satisfies pipeline.Receipts.
func (m *Messenger) EnqueueReceivedReceipt(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error {
	job, err := newReceiptJob(taskKeyReceivedReceipt, toUsername, toDeviceID, remoteID)
	if err != nil {
		return err
	}
	return m.queue.Enqueue(ctx, job)
}

// EnqueueResendRequest satisfies pipeline.Receipts: it asks the addressed
// device to resend remoteID, the same action session.Delegate.RequestResend
// triggers from a failed decrypt.
func (m *Messenger) EnqueueResendRequest(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error {
	return m.enqueueResendMessageRequest(ctx, toUsername, toDeviceID, remoteID)
}

// EnqueueResendMessage satisfies pipeline.Receipts: it resends a locally
// authored message's content to a requesting device.
func (m *Messenger) EnqueueResendMessage(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error {
	job, err := newReceiptJob(taskKeyResendMessage, toUsername, toDeviceID, remoteID)
	if err != nil {
		return err
	}
	return m.queue.Enqueue(ctx, job)
}

// HandleSideChannel satisfies pipeline.P2P. Demuxing the side-channel
// payload itself is left to the application; only the open notification
// is surfaced here.
func (m *Messenger) HandleSideChannel(ctx context.Context, transportName string, sender pipeline.SingleMessage, payload map[string]any) error {
	m.hooks.NotifyP2POpen(ctx, transportName, sender.SenderDeviceID)
	return nil
}

// Authenticated satisfies queue.Connectivity.
func (m *Messenger) Authenticated() bool {
	return m.transport.Authenticated()
}
