// Package storage defines the pluggable persisted-record layer described
// in the persisted state layout: every entity is stored as an opaque,
// already-AEAD-sealed blob (produced by the keystore package) keyed by
// UUID, alongside the unencrypted secondary indices each store needs for
// lookup. No backend in this package ever sees plaintext record fields;
// it only shuttles sealed bytes and index columns the core exposes
// explicitly.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
)

// Record is the sealed form of any persisted entity: an AEAD-sealed BSON
// blob keyed by a stable UUID.
type Record struct {
	ID    uuid.UUID
	Props []byte
}

// DeviceConfigStore persists the two per-install singletons: the local
// device salt and the sealed local DeviceConfig.
type DeviceConfigStore interface {
	SaveDeviceSalt(ctx context.Context, salt []byte) error
	LoadDeviceSalt(ctx context.Context) ([]byte, bool, error)
	SaveDeviceConfig(ctx context.Context, sealed []byte) error
	LoadDeviceConfig(ctx context.Context) ([]byte, bool, error)
}

// ContactRecord pairs a sealed Contact with its unencrypted username
// index.
type ContactRecord struct {
	Record
	Username string
}

// ContactStore persists Contact records, indexed by username.
type ContactStore interface {
	PutContact(ctx context.Context, rec ContactRecord) error
	GetContact(ctx context.Context, id uuid.UUID) (ContactRecord, bool, error)
	GetContactByUsername(ctx context.Context, username string) (ContactRecord, bool, error)
	DeleteContact(ctx context.Context, id uuid.UUID) error
}

// ConversationRecord is a sealed Conversation. Conversations have no
// unencrypted secondary index; they are always looked up by id.
type ConversationRecord struct {
	Record
}

// ConversationStore persists Conversation records.
type ConversationStore interface {
	PutConversation(ctx context.Context, rec ConversationRecord) error
	GetConversation(ctx context.Context, id uuid.UUID) (ConversationRecord, bool, error)
}

// DeviceIdentityRecord pairs a sealed DeviceIdentity with the username
// and device id it is indexed by.
type DeviceIdentityRecord struct {
	Record
	Username string
	DeviceID uuid.UUID
}

// DeviceIdentityStore persists DeviceIdentity records, indexed by
// (username, deviceId) and queryable by username alone.
type DeviceIdentityStore interface {
	PutDeviceIdentity(ctx context.Context, rec DeviceIdentityRecord) error
	GetDeviceIdentity(ctx context.Context, id uuid.UUID) (DeviceIdentityRecord, bool, error)
	GetDeviceIdentityByDeviceID(ctx context.Context, username string, deviceID uuid.UUID) (DeviceIdentityRecord, bool, error)
	ListDeviceIdentitiesByUsername(ctx context.Context, username string) ([]DeviceIdentityRecord, error)
}

// ChatMessageRecord pairs a sealed ChatMessage with the unencrypted
// indices it is stored under: conversationId, remoteId, order, senderId.
type ChatMessageRecord struct {
	Record
	ConversationID uuid.UUID
	RemoteID       string
	Order          int
	SenderID       int64
}

// ChatMessageStore persists ChatMessage records.
type ChatMessageStore interface {
	PutChatMessage(ctx context.Context, rec ChatMessageRecord) error
	GetChatMessage(ctx context.Context, id uuid.UUID) (ChatMessageRecord, bool, error)
	GetChatMessageByRemoteID(ctx context.Context, remoteID string) (ChatMessageRecord, bool, error)
	ListChatMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]ChatMessageRecord, error)
}

// JobRecord pairs a sealed Job with the scheduledAt index the queue
// selects on.
type JobRecord struct {
	Record
	ScheduledAt time.Time
}

// JobStore persists Job records.
type JobStore interface {
	PutJob(ctx context.Context, rec JobRecord) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	ListJobs(ctx context.Context) ([]JobRecord, error)
}

// Store is the composite persisted-record backend. Every sub-store
// accessor is non-nil for every backend in this package; the
// nil-if-unsupported convention from the teacher's composite interface
// does not apply here because the core requires all five entity kinds.
type Store interface {
	io.Closer

	Init(ctx context.Context) error

	DeviceConfigStore() DeviceConfigStore
	ContactStore() ContactStore
	ConversationStore() ConversationStore
	DeviceIdentityStore() DeviceIdentityStore
	ChatMessageStore() ChatMessageStore
	JobStore() JobStore
}
