// Package memory provides an in-memory storage.Store, used as the
// reference backend in tests and as a default for callers that don't
// need durability.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	deviceSalt   []byte
	deviceConfig []byte

	contacts         map[uuid.UUID]storage.ContactRecord
	contactsByName   map[string]uuid.UUID
	conversations    map[uuid.UUID]storage.ConversationRecord
	deviceIdentities map[uuid.UUID]storage.DeviceIdentityRecord
	deviceByUserDev  map[string]uuid.UUID // username + "\x00" + deviceId -> id
	devicesByUser    map[string]map[uuid.UUID]struct{}
	chatMessages     map[uuid.UUID]storage.ChatMessageRecord
	chatByRemoteID   map[string]uuid.UUID
	chatByConv       map[uuid.UUID]map[uuid.UUID]struct{}
	jobs             map[uuid.UUID]storage.JobRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) Init(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = make(map[uuid.UUID]storage.ContactRecord)
	s.contactsByName = make(map[string]uuid.UUID)
	s.conversations = make(map[uuid.UUID]storage.ConversationRecord)
	s.deviceIdentities = make(map[uuid.UUID]storage.DeviceIdentityRecord)
	s.deviceByUserDev = make(map[string]uuid.UUID)
	s.devicesByUser = make(map[string]map[uuid.UUID]struct{})
	s.chatMessages = make(map[uuid.UUID]storage.ChatMessageRecord)
	s.chatByRemoteID = make(map[string]uuid.UUID)
	s.chatByConv = make(map[uuid.UUID]map[uuid.UUID]struct{})
	s.jobs = make(map[uuid.UUID]storage.JobRecord)
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) DeviceConfigStore() storage.DeviceConfigStore     { return s }
func (s *Store) ContactStore() storage.ContactStore               { return s }
func (s *Store) ConversationStore() storage.ConversationStore     { return s }
func (s *Store) DeviceIdentityStore() storage.DeviceIdentityStore { return s }
func (s *Store) ChatMessageStore() storage.ChatMessageStore       { return s }
func (s *Store) JobStore() storage.JobStore                       { return s }

// --- DeviceConfigStore ---

func (s *Store) SaveDeviceSalt(_ context.Context, salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceSalt = append([]byte(nil), salt...)
	return nil
}

func (s *Store) LoadDeviceSalt(context.Context) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deviceSalt == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.deviceSalt...), true, nil
}

func (s *Store) SaveDeviceConfig(_ context.Context, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceConfig = append([]byte(nil), sealed...)
	return nil
}

func (s *Store) LoadDeviceConfig(context.Context) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deviceConfig == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.deviceConfig...), true, nil
}

// --- ContactStore ---

func (s *Store) PutContact(_ context.Context, rec storage.ContactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[rec.ID] = rec
	s.contactsByName[rec.Username] = rec.ID
	return nil
}

func (s *Store) GetContact(_ context.Context, id uuid.UUID) (storage.ContactRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.contacts[id]
	return rec, ok, nil
}

func (s *Store) GetContactByUsername(_ context.Context, username string) (storage.ContactRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.contactsByName[username]
	if !ok {
		return storage.ContactRecord{}, false, nil
	}
	rec, ok := s.contacts[id]
	return rec, ok, nil
}

func (s *Store) DeleteContact(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.contacts[id]
	if !ok {
		return nil
	}
	delete(s.contacts, id)
	delete(s.contactsByName, rec.Username)
	return nil
}

// --- ConversationStore ---

func (s *Store) PutConversation(_ context.Context, rec storage.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[rec.ID] = rec
	return nil
}

func (s *Store) GetConversation(_ context.Context, id uuid.UUID) (storage.ConversationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[id]
	return rec, ok, nil
}

// --- DeviceIdentityStore ---

func userDeviceKey(username string, deviceID uuid.UUID) string {
	return username + "\x00" + deviceID.String()
}

func (s *Store) PutDeviceIdentity(_ context.Context, rec storage.DeviceIdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceIdentities[rec.ID] = rec
	s.deviceByUserDev[userDeviceKey(rec.Username, rec.DeviceID)] = rec.ID
	if s.devicesByUser[rec.Username] == nil {
		s.devicesByUser[rec.Username] = make(map[uuid.UUID]struct{})
	}
	s.devicesByUser[rec.Username][rec.ID] = struct{}{}
	return nil
}

func (s *Store) GetDeviceIdentity(_ context.Context, id uuid.UUID) (storage.DeviceIdentityRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.deviceIdentities[id]
	return rec, ok, nil
}

func (s *Store) GetDeviceIdentityByDeviceID(_ context.Context, username string, deviceID uuid.UUID) (storage.DeviceIdentityRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.deviceByUserDev[userDeviceKey(username, deviceID)]
	if !ok {
		return storage.DeviceIdentityRecord{}, false, nil
	}
	rec, ok := s.deviceIdentities[id]
	return rec, ok, nil
}

func (s *Store) ListDeviceIdentitiesByUsername(_ context.Context, username string) ([]storage.DeviceIdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.devicesByUser[username]
	out := make([]storage.DeviceIdentityRecord, 0, len(ids))
	for id := range ids {
		out = append(out, s.deviceIdentities[id])
	}
	return out, nil
}

// --- ChatMessageStore ---

func (s *Store) PutChatMessage(_ context.Context, rec storage.ChatMessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatMessages[rec.ID] = rec
	if rec.RemoteID != "" {
		s.chatByRemoteID[rec.RemoteID] = rec.ID
	}
	if s.chatByConv[rec.ConversationID] == nil {
		s.chatByConv[rec.ConversationID] = make(map[uuid.UUID]struct{})
	}
	s.chatByConv[rec.ConversationID][rec.ID] = struct{}{}
	return nil
}

func (s *Store) GetChatMessage(_ context.Context, id uuid.UUID) (storage.ChatMessageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.chatMessages[id]
	return rec, ok, nil
}

func (s *Store) GetChatMessageByRemoteID(_ context.Context, remoteID string) (storage.ChatMessageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.chatByRemoteID[remoteID]
	if !ok {
		return storage.ChatMessageRecord{}, false, nil
	}
	rec, ok := s.chatMessages[id]
	return rec, ok, nil
}

func (s *Store) ListChatMessagesByConversation(_ context.Context, conversationID uuid.UUID) ([]storage.ChatMessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.chatByConv[conversationID]
	out := make([]storage.ChatMessageRecord, 0, len(ids))
	for id := range ids {
		out = append(out, s.chatMessages[id])
	}
	return out, nil
}

// --- JobStore ---

func (s *Store) PutJob(_ context.Context, rec storage.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec
	return nil
}

func (s *Store) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *Store) ListJobs(_ context.Context) ([]storage.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec)
	}
	return out, nil
}
