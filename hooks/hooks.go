// Package hooks defines the application capability/listener set the
// messenger façade invokes for policy decisions and notifications. It is
// a plain struct of function fields, not an interface, so a caller
// supplies only the hooks it cares about, and so that this package
// never needs to import the façade it is called from.
package hooks

import (
	"context"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/model"
)

// MessageDecision mirrors pipeline.Decision for non-magic inbound
// messages: Ignore drops the message, Save persists it.
type MessageDecision int

const (
	Ignore MessageDecision = iota
	Save
)

// SendDecision is returned by OnSendMessage: Send transmits without
// local persistence (e.g. an ephemeral receipt), SaveAndSend persists
// then transmits.
type SendDecision int

const (
	Send SendDecision = iota
	SaveAndSend
)

// Hooks is the capability set the messenger consults for policy and
// notifies of state changes. Every field is optional; a nil field is
// treated as the identity/no-op default documented on it. A nil *Hooks
// receiver is itself valid and behaves as if every field were nil.
type Hooks struct {
	// OnMessageChange fires whenever a persisted ChatMessage's delivery
	// state, text, or metadata changes.
	OnMessageChange func(ctx context.Context, msg *model.ChatMessage)

	// OnCreateContact is the callback NotifyCreateContact invokes. Nothing
	// in this module calls NotifyCreateContact, so Contact records created
	// during identity rediscovery do not fire it.
	OnCreateContact func(ctx context.Context, contact *model.Contact)

	// OnCreateConversation fires when a new Conversation is opened.
	OnCreateConversation func(ctx context.Context, conv *model.Conversation)

	// OnRekey fires whenever the session manager's rekey recovery discards
	// a device's ratchet state and re-handshakes. An identity change does
	// not fire it.
	OnRekey func(ctx context.Context, device *model.DeviceIdentity)

	// OnDeviceRegistery fires when the transport requests registration
	// for a device that is not yet known locally.
	OnDeviceRegistery func(ctx context.Context, udc model.UserDeviceConfig)

	// OnContactIdentityChange fires when UpdateUserIdentity observes a
	// changed identity key for a known contact. Ratchet state is never
	// dropped automatically; the application decides via this hook.
	OnContactIdentityChange func(ctx context.Context, username string)

	// OnReceiveMessage applies policy to an inbound, non-magic message
	// before it is persisted. A nil hook defaults to Save.
	OnReceiveMessage func(ctx context.Context, conv *model.Conversation, msg *model.ChatMessage) MessageDecision

	// OnSendMessage applies policy to an outbound message before it is
	// handed to the envelope/transport layer. A nil hook defaults to
	// SaveAndSend.
	OnSendMessage func(ctx context.Context, target model.MessageTarget, msg *model.ChatMessage) SendDecision

	// OnP2POpen and OnP2PClose notify of side-channel lifecycle events
	// keyed by transport name and peer device.
	OnP2POpen  func(ctx context.Context, transport string, peer uuid.UUID)
	OnP2PClose func(ctx context.Context, transport string, peer uuid.UUID)

	// CreateContactMetadata and CreatePrivateChatMetadata let the
	// application attach arbitrary metadata at creation time, e.g. a
	// display name resolved from an address book.
	CreateContactMetadata     func(ctx context.Context, username string) map[string]any
	CreatePrivateChatMetadata func(ctx context.Context, username string) map[string]any
}

// ReceiveDecision evaluates OnReceiveMessage, defaulting to Save.
func (h *Hooks) ReceiveDecision(ctx context.Context, conv *model.Conversation, msg *model.ChatMessage) MessageDecision {
	if h == nil || h.OnReceiveMessage == nil {
		return Save
	}
	return h.OnReceiveMessage(ctx, conv, msg)
}

// SendPolicy evaluates OnSendMessage, defaulting to SaveAndSend.
func (h *Hooks) SendPolicy(ctx context.Context, target model.MessageTarget, msg *model.ChatMessage) SendDecision {
	if h == nil || h.OnSendMessage == nil {
		return SaveAndSend
	}
	return h.OnSendMessage(ctx, target, msg)
}

// NotifyMessageChange fires after a ChatMessage's persisted state
// changes.
func (h *Hooks) NotifyMessageChange(ctx context.Context, msg *model.ChatMessage) {
	if h != nil && h.OnMessageChange != nil {
		h.OnMessageChange(ctx, msg)
	}
}

// NotifyCreateContact invokes OnCreateContact. No code path in this
// module calls it.
func (h *Hooks) NotifyCreateContact(ctx context.Context, c *model.Contact) {
	if h != nil && h.OnCreateContact != nil {
		h.OnCreateContact(ctx, c)
	}
}

// NotifyCreateConversation fires when a new Conversation is opened.
func (h *Hooks) NotifyCreateConversation(ctx context.Context, conv *model.Conversation) {
	if h != nil && h.OnCreateConversation != nil {
		h.OnCreateConversation(ctx, conv)
	}
}

// NotifyRekey fires whenever a session discards ratchet state and
// re-handshakes.
func (h *Hooks) NotifyRekey(ctx context.Context, device *model.DeviceIdentity) {
	if h != nil && h.OnRekey != nil {
		h.OnRekey(ctx, device)
	}
}

// NotifyDeviceRegistery fires when the transport requests registration
// for an unknown device.
func (h *Hooks) NotifyDeviceRegistery(ctx context.Context, udc model.UserDeviceConfig) {
	if h != nil && h.OnDeviceRegistery != nil {
		h.OnDeviceRegistery(ctx, udc)
	}
}

// NotifyContactIdentityChange fires when a known contact's identity key
// changes. Ratchet state is left untouched; this hook is the only
// signal the application gets.
func (h *Hooks) NotifyContactIdentityChange(ctx context.Context, username string) {
	if h != nil && h.OnContactIdentityChange != nil {
		h.OnContactIdentityChange(ctx, username)
	}
}

// NotifyP2POpen fires when a side channel opens for the given transport
// and peer device.
func (h *Hooks) NotifyP2POpen(ctx context.Context, transport string, peer uuid.UUID) {
	if h != nil && h.OnP2POpen != nil {
		h.OnP2POpen(ctx, transport, peer)
	}
}

// NotifyP2PClose fires when a side channel closes.
func (h *Hooks) NotifyP2PClose(ctx context.Context, transport string, peer uuid.UUID) {
	if h != nil && h.OnP2PClose != nil {
		h.OnP2PClose(ctx, transport, peer)
	}
}

// ContactMetadata resolves CreateContactMetadata, defaulting to nil.
func (h *Hooks) ContactMetadata(ctx context.Context, username string) map[string]any {
	if h == nil || h.CreateContactMetadata == nil {
		return nil
	}
	return h.CreateContactMetadata(ctx, username)
}

// PrivateChatMetadata resolves CreatePrivateChatMetadata, defaulting to
// nil.
func (h *Hooks) PrivateChatMetadata(ctx context.Context, username string) map[string]any {
	if h == nil || h.CreatePrivateChatMetadata == nil {
		return nil
	}
	return h.CreatePrivateChatMetadata(ctx, username)
}
