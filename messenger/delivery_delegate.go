package messenger

import (
	"context"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/envelope"
	"github.com/orlandos-nl/cyphertextkit/model"
)

// The methods in this file implement transport.Delegate: the server-pushed
// events a transport reports back to the core. Per the transport contract,
// each event is acknowledged only once the corresponding durable task is
// enqueued; the transport itself owns redelivery on a missed ack, so these
// methods return nothing and only log-worthy failures are swallowed.

// MessageSent satisfies transport.Delegate: the relay accepted a
// single-recipient send. The model has no distinct "sent" tier below
// DeliveryReceived, so this advances the message the same way a
// DeliveryReceived receipt does.
func (m *Messenger) MessageSent(ctx context.Context, messageID string) {
	m.enqueueDeliveryAdvance(ctx, messageID, model.DeliveryReceived, "")
}

// MultiRecipientMessageSent satisfies transport.Delegate, mirroring
// MessageSent for the multi-recipient envelope send path.
func (m *Messenger) MultiRecipientMessageSent(ctx context.Context, messageID string) {
	m.enqueueDeliveryAdvance(ctx, messageID, model.DeliveryReceived, "")
}

// MessageDisplayed satisfies transport.Delegate: fromUsername's device
// rendered the message to the user. Advances the message to DeliveryRead
// and records the per-user advance for group chats.
func (m *Messenger) MessageDisplayed(ctx context.Context, fromUsername string, fromDevice uuid.UUID, remoteID string) {
	m.enqueueDeliveryAdvance(ctx, remoteID, model.DeliveryRead, fromUsername)
}

// MessageReceived satisfies transport.Delegate: a fresh envelope arrived
// from fromUsername's fromDevice. It is handed straight to the pipeline;
// HandleEnvelope itself is responsible for rediscovering an unknown sender
// device.
func (m *Messenger) MessageReceived(ctx context.Context, fromUsername string, fromDevice uuid.UUID, env *envelope.Envelope) {
	_ = m.HandleEnvelope(ctx, env, fromUsername, fromDevice)
}

// RequestDeviceRegistery satisfies transport.Delegate: the relay is asking
// the core to register a device it has not seen before. The application is
// notified, and the device identity is created locally so subsequent
// envelopes addressed to it resolve.
func (m *Messenger) RequestDeviceRegistery(ctx context.Context, fromUsername string, udc model.UserDeviceConfig) {
	m.hooks.NotifyDeviceRegistery(ctx, udc)
	_, _ = m.identity.CreateDeviceIdentity(ctx, fromUsername, udc)
}

// enqueueDeliveryAdvance durably schedules a DeliveryState advance for the
// locally authored message identified by remoteID. fromUsername is set
// only for a per-recipient advance (MessageDisplayed); it is empty for a
// blanket advance reported once for the whole send.
func (m *Messenger) enqueueDeliveryAdvance(ctx context.Context, remoteID string, newState model.DeliveryState, fromUsername string) {
	job, err := newDeliverStateChangeJob(remoteID, newState, fromUsername)
	if err != nil {
		return
	}
	_ = m.queue.Enqueue(ctx, job)
}
