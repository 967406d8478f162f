// Package model defines the persisted entity types shared across the
// library. Every entity carries a stable UUID id; identity is compared on
// that id alone, while properties may freely change over the entity's
// lifetime. Decrypted views are short-lived and produced on demand by the
// keystore package from an AEAD-sealed property blob.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RegistryMode describes how the local device relates to the user's
// device fleet.
type RegistryMode int

const (
	RegistryModeUnregistered RegistryMode = iota
	RegistryModeMaster
	RegistryModeChild
)

// DeviceConfig is the local, per-install device configuration. Exactly one
// exists per app instance and it can only be read once the app password has
// been used to derive its encryption key.
type DeviceConfig struct {
	ID                  uuid.UUID
	Username            string
	DeviceID            uuid.UUID
	SenderID            int64 // unique among this user's known devices; stable for the device's lifetime
	RegistryMode        RegistryMode
	IdentityPrivateKey  []byte // Ed25519 seed
	AgreementPrivateKey []byte // X25519 scalar
	LastKnownUserConfig *UserConfig
}

// UserDeviceConfig is the signed, advertised description of a single device
// belonging to a user, as distributed through the registry.
type UserDeviceConfig struct {
	DeviceID     uuid.UUID
	PublicKey    []byte // X25519
	IdentityKey  []byte // Ed25519
	IsMasterDevice bool
	DeviceName   string
}

// UserConfig is the signed list of a user's devices plus their identity
// signing key, as fetched from the registry.
type UserConfig struct {
	Identity []byte // Ed25519 public signing key
	Devices  []UserDeviceConfig
}

// DeviceIdentity is the local, per-peer-device record created on first
// encounter with a remote device. PublicKey and Identity are immutable
// after creation; SenderID is stable for the lifetime of the record.
type DeviceIdentity struct {
	ID             uuid.UUID
	Username       string
	DeviceID       uuid.UUID
	SenderID       int64 // unique among this user's known devices and the local device
	PublicKey      []byte // X25519
	Identity       []byte // Ed25519
	IsMasterDevice bool
	RatchetState   []byte // opaque, serialized ratchet.State; nil until the first handshake
	LastRekey      *time.Time
	ServerVerified bool
}

// Contact is a locally cached peer user.
type Contact struct {
	ID         uuid.UUID
	Username   string
	UserConfig UserConfig
	Metadata   map[string]any
}

// Conversation groups the messages exchanged with one or more members.
// LocalOrder strictly increases with every message sent into it.
type Conversation struct {
	ID            uuid.UUID
	Members       map[string]struct{}
	KickedMembers map[string]struct{}
	Metadata      map[string]any
	LocalOrder    int
}

// DeliveryState is the per-message or per-recipient delivery state.
type DeliveryState int

const (
	DeliveryNone DeliveryState = iota
	DeliveryUndelivered
	DeliveryReceived
	DeliveryRead
	DeliveryRevoked
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryNone:
		return "none"
	case DeliveryUndelivered:
		return "undelivered"
	case DeliveryReceived:
		return "received"
	case DeliveryRead:
		return "read"
	case DeliveryRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// MessageType distinguishes the payload kind of a SingleCypherMessage.
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeMedia
	MessageTypeMagic
)

// TargetKind discriminates the addressing of an inbound CypherMessage.
type TargetKind int

const (
	TargetCurrentUser TargetKind = iota
	TargetOtherUser
	TargetGroupChat
)

// MessageTarget addresses where a SingleCypherMessage is routed.
type MessageTarget struct {
	Kind     TargetKind
	Username string // set when Kind == TargetOtherUser
	GroupID  string // set when Kind == TargetGroupChat
}

// ChatMessage is a persisted message, sent or received.
type ChatMessage struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	SenderID        int64
	Order           int
	RemoteID        string // globally unique, allocated by the sender
	SendDate        time.Time
	ReceiveDate     time.Time
	DeliveryState   DeliveryState
	PerUserDelivery map[string]DeliveryState
	MessageType     MessageType
	MessageSubtype  string
	Text            string
	Metadata        map[string]any
	SenderUser      string
	SenderDeviceID  uuid.UUID
}

// Job is a persisted, durable unit of outbound work.
type Job struct {
	ID             uuid.UUID
	TaskKey        string
	Payload        []byte // BSON-encoded task payload
	ScheduledAt    time.Time
	DelayedUntil   *time.Time
	Attempts       int
	IsBackgroundTask bool
}
