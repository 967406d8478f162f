// Package session wraps the ratchet engine with the rekey-recovery and
// replay-defense policy that governs a single peer device identity.
package session

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"sync"
	"time"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/ratchet"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// RatchetedCypherMessage is the signed envelope wrapping every ratchet
// ciphertext. Receivers verify Signature against the sender device's
// identity key before attempting decryption when that key is a 32-byte
// Ed25519 key; a device record without one is not checked.
type RatchetedCypherMessage struct {
	Header     []byte    `bson:"header"`
	Ciphertext []byte    `bson:"ciphertext"`
	Rekey      bool      `bson:"rekey"`
	CreatedAt  time.Time `bson:"createdAt"`
	Signature  []byte    `bson:"signature,omitempty"`
}

// signedPayload is the canonical BSON document the signature is computed
// over; Signature itself is excluded.
type signedPayload struct {
	Header     []byte    `bson:"header"`
	Ciphertext []byte    `bson:"ciphertext"`
	Rekey      bool      `bson:"rekey"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (m RatchetedCypherMessage) signingBytes() ([]byte, error) {
	return bson.Marshal(signedPayload{
		Header:     m.Header,
		Ciphertext: m.Ciphertext,
		Rekey:      m.Rekey,
		CreatedAt:  m.CreatedAt,
	})
}

// sign computes and attaches the Ed25519 signature over m's canonical
// bytes, using the local long-term signing key.
func (m *RatchetedCypherMessage) sign(signingKey ed25519.PrivateKey) error {
	b, err := m.signingBytes()
	if err != nil {
		return err
	}
	m.Signature = ed25519.Sign(signingKey, b)
	return nil
}

// verify checks m's signature against the peer's long-term identity key.
func (m RatchetedCypherMessage) verify(identity ed25519.PublicKey) bool {
	b, err := m.signingBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(identity, b, m.Signature)
}

// Store persists the device identity mutated by ratchet-state changes.
// Implementations must apply the write atomically with the ratchet state
// it carries.
type Store interface {
	SaveDeviceIdentity(ctx context.Context, device *model.DeviceIdentity) error
}

// Delegate receives the side effects of rekey recovery. All methods must
// be safe to call from within a locked session operation; implementations
// should enqueue work rather than perform it synchronously.
type Delegate interface {
	// EnqueueIgnore requests that a "_/ignore" magic message be sent to
	// device, forcing the peer to observe a fresh handshake.
	EnqueueIgnore(ctx context.Context, device *model.DeviceIdentity) error
	// RequestResend asks the peer to resend the message identified by
	// remoteID, because it could not be decrypted or arrived stale.
	RequestResend(ctx context.Context, device *model.DeviceIdentity, remoteID string) error
	// OnRekey notifies the application that rekey recovery discarded the
	// session with device. A fresh handshake started by WriteWithRatchet
	// does not call it.
	OnRekey(device *model.DeviceIdentity)
}

// LocalIdentity holds the keys of the device this Manager operates as.
type LocalIdentity struct {
	Username    string
	SigningKey  ed25519.PrivateKey
	AgreementKey *ecdh.PrivateKey
}

// Manager is the per-device-identity session manager. It serializes all
// access to ratchet state on a single mutex, matching the CryptoDomain
// serialization rule: ratchet-state changes within a device are totally
// ordered and applied atomically with their persisted form.
type Manager struct {
	mu    sync.Mutex
	local LocalIdentity
	store Store
	delegate Delegate
}

// New constructs a session Manager for local, persisting device identity
// changes through store and reporting rekey side effects through delegate.
func New(local LocalIdentity, store Store, delegate Delegate) *Manager {
	return &Manager{local: local, store: store, delegate: delegate}
}

// RunFunc produces the outbound ratchet plaintext for WriteWithRatchet. It
// receives the live ratchet state and whether this write is a fresh
// handshake (rekey); a non-nil error aborts the write and discards any
// state change.
type RunFunc func(state *ratchet.State, rekey bool) ([]byte, error)

// WriteWithRatchet loads or initializes device's ratchet session, invokes
// run to produce plaintext, seals and signs the result, and persists the
// resulting state only if run succeeded.
func (m *Manager) WriteWithRatchet(ctx context.Context, device *model.DeviceIdentity, run RunFunc) (*RatchetedCypherMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		state *ratchet.State
		rekey bool
	)

	if device.RatchetState != nil {
		state = &ratchet.State{}
		if err := state.UnmarshalBinary(device.RatchetState); err != nil {
			return nil, cyphertextkit.ErrCorruptConfig
		}
	} else {
		secret, err := m.deriveSharedSecret(device)
		if err != nil {
			return nil, err
		}
		rootKey, err := ratchet.DeriveSymmetricKey(secret, m.local.Username)
		if err != nil {
			return nil, err
		}
		state, err = ratchet.InitializeSender(rootKey, device.PublicKey)
		if err != nil {
			return nil, err
		}
		rekey = true
	}

	plaintext, err := run(state, rekey)
	if err != nil {
		return nil, err
	}

	header, ciphertext, err := state.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &RatchetedCypherMessage{
		Header:     header,
		Ciphertext: ciphertext,
		Rekey:      rekey,
		CreatedAt:  now,
	}
	if err := msg.sign(m.local.SigningKey); err != nil {
		return nil, err
	}

	serialized, err := state.MarshalBinary()
	if err != nil {
		return nil, err
	}
	device.RatchetState = serialized
	if rekey {
		device.LastRekey = &now
	}
	if err := m.store.SaveDeviceIdentity(ctx, device); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReadWithRatchet verifies inbound's signature (when device carries a
// 32-byte identity key), applies replay defense,
// and decrypts it against device's session, transparently performing
// rekey recovery when decryption fails or a fresh handshake is signaled.
func (m *Manager) ReadWithRatchet(ctx context.Context, device *model.DeviceIdentity, inbound *RatchetedCypherMessage) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(device.Identity) == ed25519.PublicKeySize && !inbound.verify(device.Identity) {
		return nil, cyphertextkit.ErrInvalidSignature
	}

	if device.LastRekey != nil && !inbound.CreatedAt.IsZero() && !inbound.CreatedAt.After(*device.LastRekey) {
		if m.delegate != nil {
			_ = m.delegate.RequestResend(ctx, device, "")
		}
		return nil, cyphertextkit.ErrInvalidHandshake
	}

	if device.RatchetState != nil && !inbound.Rekey {
		state := &ratchet.State{}
		if err := state.UnmarshalBinary(device.RatchetState); err == nil {
			plaintext, err := state.Decrypt(inbound.Header, inbound.Ciphertext)
			if err == nil {
				serialized, err := state.MarshalBinary()
				if err != nil {
					return nil, err
				}
				device.RatchetState = serialized
				if err := m.store.SaveDeviceIdentity(ctx, device); err != nil {
					return nil, err
				}
				return plaintext, nil
			}
		}
	}

	return m.recoverByRekey(ctx, device, inbound)
}

// recoverByRekey clears device's ratchet state, notifies the delegate, and
// either completes a fresh handshake (if inbound itself carries one) or
// requests that the peer resend under a new session.
func (m *Manager) recoverByRekey(ctx context.Context, device *model.DeviceIdentity, inbound *RatchetedCypherMessage) ([]byte, error) {
	now := time.Now()
	device.RatchetState = nil
	device.LastRekey = &now
	if m.delegate != nil {
		m.delegate.OnRekey(device)
		if err := m.delegate.EnqueueIgnore(ctx, device); err != nil {
			return nil, err
		}
	}

	if !inbound.Rekey {
		if err := m.store.SaveDeviceIdentity(ctx, device); err != nil {
			return nil, err
		}
		if m.delegate != nil {
			_ = m.delegate.RequestResend(ctx, device, "")
		}
		return nil, cyphertextkit.ErrInvalidHandshake
	}

	secret, err := m.deriveSharedSecret(device)
	if err != nil {
		return nil, err
	}
	rootKey, err := ratchet.DeriveSymmetricKey(secret, device.Username)
	if err != nil {
		return nil, err
	}
	state, err := ratchet.InitializeRecipient(rootKey, m.local.AgreementKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := state.Decrypt(inbound.Header, inbound.Ciphertext)
	if err != nil {
		return nil, cyphertextkit.ErrRatchetDecrypt
	}

	serialized, err := state.MarshalBinary()
	if err != nil {
		return nil, err
	}
	device.RatchetState = serialized
	if err := m.store.SaveDeviceIdentity(ctx, device); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// ClearRekey persists a cleared ratchet state for device: it nils
// RatchetState and LastRekey and writes the change through Store. Callers
// use this to undo a handshake a peer never actually received (a failed
// multi-recipient Build), so the peer's next inbound message re-triggers a
// fresh handshake instead of decrypting against a key it was never given.
func (m *Manager) ClearRekey(ctx context.Context, device *model.DeviceIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device.RatchetState = nil
	device.LastRekey = nil
	return m.store.SaveDeviceIdentity(ctx, device)
}

// deriveSharedSecret performs the X25519 Diffie-Hellman step between the
// local agreement key and device's public key, ahead of the X3DH-flavored
// symmetric-key derivation.
func (m *Manager) deriveSharedSecret(device *model.DeviceIdentity) ([]byte, error) {
	remote, err := ecdh.X25519().NewPublicKey(device.PublicKey)
	if err != nil {
		return nil, cyphertextkit.ErrInvalidHandshake
	}
	secret, err := m.local.AgreementKey.ECDH(remote)
	if err != nil {
		return nil, cyphertextkit.ErrInvalidHandshake
	}
	return secret, nil
}
