// Package pipeline dispatches inbound decrypted messages: it routes by
// target, handles the reserved "_/" magic-subtype control plane, persists
// ordinary messages, and drives the delivery state machine.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/model"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// p2pFreshnessWindow bounds how old a "_/p2p/0/<transport>/…" message may
// be before it is dropped instead of handed to the side channel.
const p2pFreshnessWindow = 15 * time.Second

// magicPrefix marks a messageSubtype as belonging to the core's reserved
// control-plane namespace.
const magicPrefix = "_/"

// SingleMessage is one decrypted inbound unit of work. CypherMessage, the
// wire-level sum type, is either a single SingleMessage or an ordered
// sequence of them; callers of Dispatch already flattened that sequence.
type SingleMessage struct {
	Type           model.MessageType
	Subtype        string // set when Type == MessageTypeMagic
	Text           string
	Metadata       map[string]any
	SentDate       *time.Time
	Order          int
	Target         model.MessageTarget
	RemoteID       string
	SenderUsername string
	SenderDeviceID uuid.UUID
	SenderIsMaster bool
}

// Decision is the caller-visible verdict a Hooks implementation returns
// for a non-magic inbound message.
type Decision int

const (
	DecisionIgnore Decision = iota
	DecisionSave
)

// Store persists messages and resolves the conversation a message belongs
// to. SaveChatMessage must reject a message whose RemoteID is already
// known and report that as a duplicate rather than an error.
type Store interface {
	SaveChatMessage(ctx context.Context, msg *model.ChatMessage) (duplicate bool, err error)
	FindChatMessageByRemoteID(ctx context.Context, remoteID string) (*model.ChatMessage, bool, error)
	OpenPrivateConversation(ctx context.Context, selfUsername, otherUsername string) (*model.Conversation, error)
	OpenGroupConversation(ctx context.Context, groupID string) (*model.Conversation, error)
	InternalChatConversation(ctx context.Context) (*model.Conversation, error)
}

// DeviceRegistry is the subset of the identity registry the pipeline needs
// to act on "_/devices/…" magic messages.
type DeviceRegistry interface {
	CreateDeviceIdentity(ctx context.Context, forUsername string, udc model.UserDeviceConfig) (*model.DeviceIdentity, error)
	RenameDevice(ctx context.Context, username string, deviceID uuid.UUID, displayName string) error
	SetOwnRegistryMode(ctx context.Context, mode model.RegistryMode) error
}

// Hooks is the capability set the application uses to apply policy to
// inbound, non-magic messages.
type Hooks interface {
	OnReceiveMessage(ctx context.Context, conv *model.Conversation, msg *model.ChatMessage) Decision
}

// Receipts enqueues the durable follow-up work a received message
// triggers: a "received" receipt, or a resend request on failure.
type Receipts interface {
	EnqueueReceivedReceipt(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error
	EnqueueResendRequest(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error
	EnqueueResendMessage(ctx context.Context, toUsername string, toDeviceID uuid.UUID, remoteID string) error
}

// P2P passes freshness-checked "_/p2p/0/<transport>/…" payloads to the
// side channel.
type P2P interface {
	HandleSideChannel(ctx context.Context, transport string, sender SingleMessage, payload map[string]any) error
}

// Pipeline wires the above collaborators together and implements Dispatch.
type Pipeline struct {
	selfUsername string
	selfDeviceID uuid.UUID

	store    Store
	devices  DeviceRegistry
	hooks    Hooks
	receipts Receipts
	p2p      P2P
}

// New constructs a Pipeline for the local device (selfUsername,
// selfDeviceID).
func New(selfUsername string, selfDeviceID uuid.UUID, store Store, devices DeviceRegistry, hooks Hooks, receipts Receipts, p2p P2P) *Pipeline {
	return &Pipeline{
		selfUsername: selfUsername,
		selfDeviceID: selfDeviceID,
		store:        store,
		devices:      devices,
		hooks:        hooks,
		receipts:     receipts,
		p2p:          p2p,
	}
}

// Dispatch routes a single decrypted inbound message. Callers flatten the
// CypherMessage sum type (single message or ordered sequence) into one
// Dispatch call per element, in order.
func (p *Pipeline) Dispatch(ctx context.Context, msg SingleMessage) error {
	switch msg.Target.Kind {
	case model.TargetCurrentUser:
		return p.dispatchCurrentUser(ctx, msg)
	case model.TargetOtherUser:
		return p.dispatchOtherUser(ctx, msg)
	case model.TargetGroupChat:
		return p.dispatchGroupChat(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown target kind", cyphertextkit.ErrBadInput)
	}
}

// dispatchCurrentUser handles a message addressed to one of the local
// user's own devices: a sibling-device sync channel. Only accepted from a
// sibling device of the same user.
func (p *Pipeline) dispatchCurrentUser(ctx context.Context, msg SingleMessage) error {
	if msg.SenderUsername != p.selfUsername || msg.SenderDeviceID == p.selfDeviceID {
		return fmt.Errorf("%w: currentUser message from a foreign sender", cyphertextkit.ErrBadInput)
	}

	if msg.Type == model.MessageTypeMagic {
		return p.dispatchMagic(ctx, msg)
	}

	conv, err := p.store.InternalChatConversation(ctx)
	if err != nil {
		return err
	}
	return p.persistAndApplyPolicy(ctx, conv, msg)
}

// dispatchOtherUser handles a message addressed to the private chat
// between self and msg.Target.Username.
func (p *Pipeline) dispatchOtherUser(ctx context.Context, msg SingleMessage) error {
	if msg.Type == model.MessageTypeMagic {
		return p.dispatchMagic(ctx, msg)
	}

	conv, err := p.store.OpenPrivateConversation(ctx, p.selfUsername, msg.Target.Username)
	if err != nil {
		return err
	}
	if err := p.persistAndApplyPolicy(ctx, conv, msg); err != nil {
		return err
	}
	return p.receipts.EnqueueReceivedReceipt(ctx, msg.SenderUsername, msg.SenderDeviceID, msg.RemoteID)
}

// dispatchGroupChat handles a message addressed to a group conversation.
func (p *Pipeline) dispatchGroupChat(ctx context.Context, msg SingleMessage) error {
	if msg.Type == model.MessageTypeMagic {
		return p.dispatchMagic(ctx, msg)
	}

	conv, err := p.store.OpenGroupConversation(ctx, msg.Target.GroupID)
	if err != nil {
		return err
	}
	if err := p.persistAndApplyPolicy(ctx, conv, msg); err != nil {
		return err
	}
	return p.receipts.EnqueueReceivedReceipt(ctx, msg.SenderUsername, msg.SenderDeviceID, msg.RemoteID)
}

// persistAndApplyPolicy presents a non-magic message to Hooks, then
// persists it unless the application chose to ignore it. A duplicate
// RemoteID is treated as a successful no-op.
func (p *Pipeline) persistAndApplyPolicy(ctx context.Context, conv *model.Conversation, msg SingleMessage) error {
	if existing, ok, err := p.store.FindChatMessageByRemoteID(ctx, msg.RemoteID); err != nil {
		return err
	} else if ok {
		_ = existing
		return nil
	}

	chatMsg := &model.ChatMessage{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Order:          msg.Order,
		RemoteID:       msg.RemoteID,
		ReceiveDate:    time.Now(),
		DeliveryState:  model.DeliveryReceived,
		MessageType:    msg.Type,
		MessageSubtype: msg.Subtype,
		Text:           msg.Text,
		Metadata:       msg.Metadata,
		SenderUser:     msg.SenderUsername,
		SenderDeviceID: msg.SenderDeviceID,
	}
	if msg.SentDate != nil {
		chatMsg.SendDate = *msg.SentDate
	}

	decision := p.hooks.OnReceiveMessage(ctx, conv, chatMsg)
	if decision == DecisionIgnore {
		return nil
	}

	// A duplicate reported by SaveChatMessage is a successful no-op too.
	if _, err := p.store.SaveChatMessage(ctx, chatMsg); err != nil {
		return err
	}
	return nil
}

// dispatchMagic handles every reserved "_/" control-plane subtype. Unknown
// subtypes under the reserved prefix are silently dropped, per the wire
// invariant that application subtypes must never use it.
func (p *Pipeline) dispatchMagic(ctx context.Context, msg SingleMessage) error {
	switch {
	case msg.Subtype == "_/devices/announce":
		return p.handleDevicesAnnounce(ctx, msg)
	case msg.Subtype == "_/devices/rename":
		return p.handleDevicesRename(ctx, msg)
	case msg.Subtype == "_/ignore":
		return nil
	case msg.Subtype == "_/resend/message":
		return p.handleResendMessage(ctx, msg)
	case hasP2PPrefix(msg.Subtype):
		return p.handleP2P(ctx, msg)
	default:
		return nil
	}
}

func hasP2PPrefix(subtype string) bool {
	const prefix = "_/p2p/0/"
	return len(subtype) > len(prefix) && subtype[:len(prefix)] == prefix
}

// handleDevicesAnnounce decodes a UserDeviceConfig from msg.Metadata. If it
// names the local device, the local registry mode is updated; otherwise a
// DeviceIdentity is created for the newly announced sibling device. Only
// the user's master device may announce a new device identity; a
// non-master sender is rejected outright.
func (p *Pipeline) handleDevicesAnnounce(ctx context.Context, msg SingleMessage) error {
	if !msg.SenderIsMaster {
		return fmt.Errorf("%w: devices/announce from a non-master device", cyphertextkit.ErrBadInput)
	}

	var udc model.UserDeviceConfig
	if err := decodeMetadata(msg.Metadata, &udc); err != nil {
		return err
	}

	if udc.DeviceID == p.selfDeviceID {
		mode := model.RegistryModeChild
		if udc.IsMasterDevice {
			mode = model.RegistryModeMaster
		}
		return p.devices.SetOwnRegistryMode(ctx, mode)
	}

	// The announced device belongs to the sender's username: their own
	// sibling, whether the sender is one of our own devices (self-sync) or
	// a contact announcing a new device of theirs.
	_, err := p.devices.CreateDeviceIdentity(ctx, msg.SenderUsername, udc)
	return err
}

func (p *Pipeline) handleDevicesRename(ctx context.Context, msg SingleMessage) error {
	var payload struct {
		DeviceID    uuid.UUID `bson:"deviceId"`
		DisplayName string    `bson:"displayName"`
	}
	if err := decodeMetadata(msg.Metadata, &payload); err != nil {
		return err
	}
	return p.devices.RenameDevice(ctx, p.selfUsername, payload.DeviceID, payload.DisplayName)
}

// handleResendMessage looks up a locally authored message by RemoteID and
// re-enqueues a send to the requester, provided the requester is
// authorized: itself, or a member of the same conversation.
func (p *Pipeline) handleResendMessage(ctx context.Context, msg SingleMessage) error {
	var payload struct {
		RemoteID string `bson:"remoteId"`
	}
	if err := decodeMetadata(msg.Metadata, &payload); err != nil {
		return err
	}

	original, ok, err := p.store.FindChatMessageByRemoteID(ctx, payload.RemoteID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if msg.SenderUsername != p.selfUsername && msg.SenderUsername != original.SenderUser {
		return fmt.Errorf("%w: unauthorized resend request", cyphertextkit.ErrBadInput)
	}

	return p.receipts.EnqueueResendMessage(ctx, msg.SenderUsername, msg.SenderDeviceID, payload.RemoteID)
}

// handleP2P hands a side-channel payload to the P2P delegate, but only if
// it arrived within the freshness window. Both a stale and a future-dated
// SentDate are rejected: the window bounds |now - sentDate|, not just how
// far in the past it is.
func (p *Pipeline) handleP2P(ctx context.Context, msg SingleMessage) error {
	if msg.SentDate == nil {
		return nil
	}
	delta := time.Since(*msg.SentDate)
	if delta < 0 {
		delta = -delta
	}
	if delta >= p2pFreshnessWindow {
		return nil
	}
	const prefix = "_/p2p/0/"
	transport := msg.Subtype[len(prefix):]
	return p.p2p.HandleSideChannel(ctx, transport, msg, msg.Metadata)
}

// decodeMetadata round-trips a BSON-document-shaped map into a typed
// struct, since magic-message payloads travel as map[string]any.
func decodeMetadata(metadata map[string]any, out any) error {
	b, err := bson.Marshal(metadata)
	if err != nil {
		return err
	}
	return bson.Unmarshal(b, out)
}
