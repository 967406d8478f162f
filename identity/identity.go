// Package identity tracks peers and their devices: it enforces per-peer
// identity consistency and creates the local DeviceIdentity records that
// the session manager later ratchets against.
package identity

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/google/uuid"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/model"
)

// Result reports the outcome of UpdateUserIdentity.
type Result int

const (
	Consistent Result = iota
	NewIdentity
	ChangedIdentity
)

// senderIDDrawRange is 2^63 - 1: rand.Int draws from [0, senderIDDrawRange),
// and adding 1 yields a value uniformly in [1, 2^63), the full positive
// int64 range exclusive of zero.
var senderIDDrawRange = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1))

// Store persists contacts and device identities. Registry never reaches
// into storage directly so that it can be exercised against any backend.
type Store interface {
	GetContact(ctx context.Context, username string) (*model.Contact, bool, error)
	SaveContact(ctx context.Context, c *model.Contact) error
	ListDeviceIdentities(ctx context.Context, username string) ([]*model.DeviceIdentity, error)
	GetDeviceIdentityByDeviceID(ctx context.Context, username string, deviceID uuid.UUID) (*model.DeviceIdentity, bool, error)
	SaveDeviceIdentity(ctx context.Context, d *model.DeviceIdentity) error
}

// Registry abstracts the remote key-bundle directory.
type Registry interface {
	FetchUserConfig(ctx context.Context, username string) (*model.UserConfig, error)
}

// Delegate surfaces identity-consistency events to the application. A
// ChangedIdentity never drops existing ratchet state automatically; it is
// reported here and the application decides whether to act.
type Delegate interface {
	OnContactIdentityChange(username string)
}

// Manager implements the peer/device registry operations.
type Manager struct {
	store    Store
	registry Registry
	delegate Delegate

	localUsername string
	localDeviceID uuid.UUID
	localSenderID int64

	mu                    sync.Mutex
	rediscoveredUsernames map[string]struct{}
}

// New constructs a Manager for the local device identified by
// (localUsername, localDeviceID, localSenderID).
func New(store Store, registry Registry, delegate Delegate, localUsername string, localDeviceID uuid.UUID, localSenderID int64) *Manager {
	return &Manager{
		store:                 store,
		registry:              registry,
		delegate:              delegate,
		localUsername:         localUsername,
		localDeviceID:         localDeviceID,
		localSenderID:         localSenderID,
		rediscoveredUsernames: make(map[string]struct{}),
	}
}

// UpdateUserIdentity reconciles a freshly fetched UserConfig for username
// against any cached Contact.
func (m *Manager) UpdateUserIdentity(ctx context.Context, username string, newConfig model.UserConfig) (Result, error) {
	contact, ok, err := m.store.GetContact(ctx, username)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := m.store.SaveContact(ctx, &model.Contact{
			ID:         uuid.New(),
			Username:   username,
			UserConfig: newConfig,
		}); err != nil {
			return 0, err
		}
		return NewIdentity, nil
	}

	if bytesEqual(contact.UserConfig.Identity, newConfig.Identity) {
		return Consistent, nil
	}

	contact.UserConfig = newConfig
	if err := m.store.SaveContact(ctx, contact); err != nil {
		return 0, err
	}
	if m.delegate != nil {
		m.delegate.OnContactIdentityChange(username)
	}
	return ChangedIdentity, nil
}

// CreateDeviceIdentity creates (or validates) a DeviceIdentity record for
// one advertised device of forUsername. A publicKey/identity mismatch
// against an existing record for the same (username, deviceId) fails with
// ErrInvalidSignature; creating a duplicate of the local device is refused.
func (m *Manager) CreateDeviceIdentity(ctx context.Context, forUsername string, udc model.UserDeviceConfig) (*model.DeviceIdentity, error) {
	if forUsername == m.localUsername && udc.DeviceID == m.localDeviceID {
		return nil, cyphertextkit.ErrBadInput
	}

	existing, ok, err := m.store.GetDeviceIdentityByDeviceID(ctx, forUsername, udc.DeviceID)
	if err != nil {
		return nil, err
	}
	if ok {
		if !bytesEqual(existing.PublicKey, udc.PublicKey) || !bytesEqual(existing.Identity, udc.IdentityKey) {
			return nil, cyphertextkit.ErrInvalidSignature
		}
		return existing, nil
	}

	known, err := m.store.ListDeviceIdentities(ctx, forUsername)
	if err != nil {
		return nil, err
	}
	taken := make(map[int64]struct{}, len(known)+1)
	taken[m.localSenderID] = struct{}{}
	for _, d := range known {
		taken[d.SenderID] = struct{}{}
	}

	senderID, err := freshSenderID(taken)
	if err != nil {
		return nil, err
	}

	d := &model.DeviceIdentity{
		ID:             uuid.New(),
		Username:       forUsername,
		DeviceID:       udc.DeviceID,
		SenderID:       senderID,
		PublicKey:      udc.PublicKey,
		Identity:       udc.IdentityKey,
		IsMasterDevice: udc.IsMasterDevice,
	}
	if err := m.store.SaveDeviceIdentity(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// RediscoverDeviceIdentities fetches username's signed UserConfig from the
// registry, reconciles it via UpdateUserIdentity, and creates or validates
// a DeviceIdentity for every advertised device. Within one Manager's
// lifetime, a username is rediscovered at most once.
func (m *Manager) RediscoverDeviceIdentities(ctx context.Context, username string) error {
	m.mu.Lock()
	if _, done := m.rediscoveredUsernames[username]; done {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	config, err := m.registry.FetchUserConfig(ctx, username)
	if err != nil {
		return err
	}

	if _, err := m.UpdateUserIdentity(ctx, username, *config); err != nil {
		return err
	}

	for _, udc := range config.Devices {
		if _, err := m.CreateDeviceIdentity(ctx, username, udc); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.rediscoveredUsernames[username] = struct{}{}
	m.mu.Unlock()
	return nil
}

// FetchDeviceIdentities returns username's known devices, rediscovering
// from the registry first if none are known and username is not the local
// user.
func (m *Manager) FetchDeviceIdentities(ctx context.Context, username string) ([]*model.DeviceIdentity, error) {
	devices, err := m.store.ListDeviceIdentities(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 || username == m.localUsername {
		return devices, nil
	}

	if err := m.RediscoverDeviceIdentities(ctx, username); err != nil {
		return nil, err
	}
	return m.store.ListDeviceIdentities(ctx, username)
}

// FetchDeviceIdentitiesBulk performs FetchDeviceIdentities for a set of
// usernames, rediscovering at most once per missing user.
func (m *Manager) FetchDeviceIdentitiesBulk(ctx context.Context, usernames []string) (map[string][]*model.DeviceIdentity, error) {
	out := make(map[string][]*model.DeviceIdentity, len(usernames))
	for _, username := range usernames {
		devices, err := m.FetchDeviceIdentities(ctx, username)
		if err != nil {
			return nil, err
		}
		out[username] = devices
	}
	return out, nil
}

// freshSenderID picks a uniform random value in [1, 2^63) not present in
// taken, retrying on collision.
func freshSenderID(taken map[int64]struct{}) (int64, error) {
	for {
		n, err := rand.Int(rand.Reader, senderIDDrawRange)
		if err != nil {
			return 0, err
		}
		id := n.Int64() + 1
		if _, exists := taken[id]; !exists {
			return id, nil
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
