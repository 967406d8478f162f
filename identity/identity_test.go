package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/orlandos-nl/cyphertextkit/model"
)

type memStore struct {
	mu       sync.Mutex
	contacts map[string]*model.Contact
	devices  map[string][]*model.DeviceIdentity
}

func newMemStore() *memStore {
	return &memStore{
		contacts: make(map[string]*model.Contact),
		devices:  make(map[string][]*model.DeviceIdentity),
	}
}

func (s *memStore) GetContact(_ context.Context, username string) (*model.Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[username]
	return c, ok, nil
}

func (s *memStore) SaveContact(_ context.Context, c *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contacts[c.Username] = &cp
	return nil
}

func (s *memStore) ListDeviceIdentities(_ context.Context, username string) ([]*model.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.DeviceIdentity(nil), s.devices[username]...), nil
}

func (s *memStore) GetDeviceIdentityByDeviceID(_ context.Context, username string, deviceID uuid.UUID) (*model.DeviceIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices[username] {
		if d.DeviceID == deviceID {
			return d, true, nil
		}
	}
	return nil, false, nil
}

func (s *memStore) SaveDeviceIdentity(_ context.Context, d *model.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.devices[d.Username]
	for i, existing := range list {
		if existing.DeviceID == d.DeviceID {
			list[i] = d
			s.devices[d.Username] = list
			return nil
		}
	}
	s.devices[d.Username] = append(list, d)
	return nil
}

type fakeRegistry struct {
	configs map[string]*model.UserConfig
	calls   int
}

func (r *fakeRegistry) FetchUserConfig(_ context.Context, username string) (*model.UserConfig, error) {
	r.calls++
	return r.configs[username], nil
}

type recordingDelegate struct {
	changes []string
}

func (d *recordingDelegate) OnContactIdentityChange(username string) {
	d.changes = append(d.changes, username)
}

func TestUpdateUserIdentityStates(t *testing.T) {
	store := newMemStore()
	delegate := &recordingDelegate{}
	mgr := New(store, &fakeRegistry{}, delegate, "self", uuid.New(), 1)

	cfg := model.UserConfig{Identity: []byte("key-a")}
	result, err := mgr.UpdateUserIdentity(context.Background(), "bob", cfg)
	if err != nil {
		t.Fatalf("UpdateUserIdentity: %v", err)
	}
	if result != NewIdentity {
		t.Fatalf("result = %v, want NewIdentity", result)
	}

	result, err = mgr.UpdateUserIdentity(context.Background(), "bob", cfg)
	if err != nil {
		t.Fatalf("UpdateUserIdentity: %v", err)
	}
	if result != Consistent {
		t.Fatalf("result = %v, want Consistent", result)
	}

	changed := model.UserConfig{Identity: []byte("key-b")}
	result, err = mgr.UpdateUserIdentity(context.Background(), "bob", changed)
	if err != nil {
		t.Fatalf("UpdateUserIdentity: %v", err)
	}
	if result != ChangedIdentity {
		t.Fatalf("result = %v, want ChangedIdentity", result)
	}
	if len(delegate.changes) != 1 || delegate.changes[0] != "bob" {
		t.Fatalf("delegate.changes = %v", delegate.changes)
	}
}

func TestCreateDeviceIdentityRejectsLocalDuplicate(t *testing.T) {
	store := newMemStore()
	localDeviceID := uuid.New()
	mgr := New(store, &fakeRegistry{}, &recordingDelegate{}, "self", localDeviceID, 1)

	_, err := mgr.CreateDeviceIdentity(context.Background(), "self", model.UserDeviceConfig{DeviceID: localDeviceID})
	if err == nil {
		t.Fatal("CreateDeviceIdentity allowed a duplicate of the local device")
	}
}

func TestCreateDeviceIdentityDetectsMismatch(t *testing.T) {
	store := newMemStore()
	mgr := New(store, &fakeRegistry{}, &recordingDelegate{}, "self", uuid.New(), 1)
	deviceID := uuid.New()

	udc := model.UserDeviceConfig{DeviceID: deviceID, PublicKey: []byte("pub-a"), IdentityKey: []byte("id-a")}
	first, err := mgr.CreateDeviceIdentity(context.Background(), "bob", udc)
	if err != nil {
		t.Fatalf("CreateDeviceIdentity: %v", err)
	}
	if first.SenderID <= 0 {
		t.Fatalf("SenderID = %d, want positive", first.SenderID)
	}

	tampered := udc
	tampered.PublicKey = []byte("pub-b")
	if _, err := mgr.CreateDeviceIdentity(context.Background(), "bob", tampered); err == nil {
		t.Fatal("CreateDeviceIdentity accepted a mismatched key for a known device")
	}

	// Re-creating with the same key returns the existing record unchanged.
	again, err := mgr.CreateDeviceIdentity(context.Background(), "bob", udc)
	if err != nil {
		t.Fatalf("CreateDeviceIdentity (repeat): %v", err)
	}
	if again.ID != first.ID {
		t.Fatal("CreateDeviceIdentity created a second record for the same device")
	}
}

func TestSenderIDsUniqueAcrossDevices(t *testing.T) {
	store := newMemStore()
	mgr := New(store, &fakeRegistry{}, &recordingDelegate{}, "self", uuid.New(), 1)

	seen := map[int64]struct{}{1: {}}
	for i := 0; i < 20; i++ {
		d, err := mgr.CreateDeviceIdentity(context.Background(), "bob", model.UserDeviceConfig{DeviceID: uuid.New()})
		if err != nil {
			t.Fatalf("CreateDeviceIdentity %d: %v", i, err)
		}
		if _, dup := seen[d.SenderID]; dup {
			t.Fatalf("duplicate senderId %d", d.SenderID)
		}
		seen[d.SenderID] = struct{}{}
	}
}

func TestRediscoverDeviceIdentitiesMemoized(t *testing.T) {
	store := newMemStore()
	registry := &fakeRegistry{configs: map[string]*model.UserConfig{
		"bob": {
			Identity: []byte("bob-identity"),
			Devices: []model.UserDeviceConfig{
				{DeviceID: uuid.New(), PublicKey: []byte("pub"), IdentityKey: []byte("bob-identity")},
			},
		},
	}}
	mgr := New(store, registry, &recordingDelegate{}, "self", uuid.New(), 1)

	if err := mgr.RediscoverDeviceIdentities(context.Background(), "bob"); err != nil {
		t.Fatalf("RediscoverDeviceIdentities: %v", err)
	}
	if err := mgr.RediscoverDeviceIdentities(context.Background(), "bob"); err != nil {
		t.Fatalf("RediscoverDeviceIdentities (2nd): %v", err)
	}
	if registry.calls != 1 {
		t.Fatalf("registry.calls = %d, want 1", registry.calls)
	}

	devices, err := store.ListDeviceIdentities(context.Background(), "bob")
	if err != nil {
		t.Fatalf("ListDeviceIdentities: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}
}

func TestFetchDeviceIdentitiesTriggersRediscoverWhenEmpty(t *testing.T) {
	store := newMemStore()
	registry := &fakeRegistry{configs: map[string]*model.UserConfig{
		"carol": {
			Identity: []byte("carol-identity"),
			Devices: []model.UserDeviceConfig{
				{DeviceID: uuid.New(), PublicKey: []byte("pub"), IdentityKey: []byte("carol-identity")},
			},
		},
	}}
	mgr := New(store, registry, &recordingDelegate{}, "self", uuid.New(), 1)

	devices, err := mgr.FetchDeviceIdentities(context.Background(), "carol")
	if err != nil {
		t.Fatalf("FetchDeviceIdentities: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}
	if registry.calls != 1 {
		t.Fatalf("registry.calls = %d, want 1", registry.calls)
	}
}
