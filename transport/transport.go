// Package transport defines the contract the core calls into for relay
// connectivity, without mandating any concrete protocol. Implementations
// live outside this module; the core only depends on this interface set.
package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/envelope"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/session"
)

// PushType distinguishes how urgently a relay should wake the recipient.
type PushType int

const (
	PushNormal PushType = iota
	PushSilent
	PushVoIP
)

// Transport is the external collaborator the core calls into to move
// envelopes and key bundles across the wire. The concrete network
// protocol (TCP, WebSocket, BOSH, ...) is out of scope; only the
// method-shaped contract is specified.
type Transport interface {
	ReadKeyBundle(ctx context.Context, username string) (*model.UserConfig, error)
	PublishKeyBundle(ctx context.Context, config model.UserConfig) error

	SendMessage(ctx context.Context, msg *session.RatchetedCypherMessage, toUsername string, toDevice uuid.UUID, push PushType, messageID string) error

	// SendMultiRecipientMessage is only called when SupportsMultiRecipient
	// reports true.
	SendMultiRecipientMessage(ctx context.Context, env *envelope.Envelope, push PushType, messageID string) error
	SupportsMultiRecipient() bool

	SendMessageReadReceipt(ctx context.Context, toUsername string, toDevice uuid.UUID, remoteID string) error
	SendMessageReceivedReceipt(ctx context.Context, toUsername string, toDevice uuid.UUID, remoteID string) error

	RequestDeviceRegistery(ctx context.Context, udc model.UserDeviceConfig) error

	Authenticated() bool
	Online() bool
}

// Delegate receives server-pushed events from a Transport. The core
// acknowledges each event only after the corresponding task has been
// durably enqueued; redelivery on a missed ack is the transport's
// responsibility, not the core's.
type Delegate interface {
	MessageSent(ctx context.Context, messageID string)
	MultiRecipientMessageSent(ctx context.Context, messageID string)
	MessageDisplayed(ctx context.Context, fromUsername string, fromDevice uuid.UUID, remoteID string)
	MessageReceived(ctx context.Context, fromUsername string, fromDevice uuid.UUID, env *envelope.Envelope)
	RequestDeviceRegistery(ctx context.Context, fromUsername string, udc model.UserDeviceConfig)
}
