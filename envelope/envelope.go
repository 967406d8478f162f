// Package envelope builds and parses multi-recipient envelopes: one
// AEAD-sealed payload addressed to N recipient devices, each of which
// receives its own ratchet-wrapped copy of the payload key.
package envelope

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/ratchet"
	"github.com/orlandos-nl/cyphertextkit/session"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const contentKeySize = 32

// ContainerKey is the per-recipient-device slot of an envelope: the
// sender's signed, ratchet-wrapped copy of the content key.
type ContainerKey struct {
	Username  string                         `bson:"username"`
	DeviceID  string                         `bson:"deviceId"`
	Message   session.RatchetedCypherMessage `bson:"message"`
}

// Envelope is one AEAD-sealed payload plus the container key for every
// addressed recipient device.
type Envelope struct {
	Ciphertext []byte         `bson:"ciphertext"`
	Keys       []ContainerKey `bson:"keys"`
	Signature  []byte         `bson:"signature,omitempty"`
}

func (e Envelope) signingBytes() ([]byte, error) {
	return bson.Marshal(struct {
		Ciphertext []byte         `bson:"ciphertext"`
		Keys       []ContainerKey `bson:"keys"`
	}{Ciphertext: e.Ciphertext, Keys: e.Keys})
}

// Recipient is one addressed device: the identity record whose ratchet
// session carries the content key to it.
type Recipient struct {
	Device *model.DeviceIdentity
}

// Build constructs a multi-recipient envelope for body, addressed to every
// device in recipients. If a later ratchet write or the signing step fails
// after a fresh handshake was already issued to some recipients, their
// ratchet state is rolled back
// to nil so the peer's next inbound message re-triggers a handshake
// instead of decrypting with a key it never received.
func Build(ctx context.Context, mgr *session.Manager, signingKey ed25519.PrivateKey, body any, recipients []Recipient) (*Envelope, error) {
	payload, err := bson.Marshal(body)
	if err != nil {
		return nil, err
	}

	contentKey := make([]byte, contentKeySize)
	if _, err := rand.Read(contentKey); err != nil {
		return nil, err
	}

	ciphertext, err := sealOuter(contentKey, payload)
	if err != nil {
		return nil, err
	}

	keys := make([]ContainerKey, 0, len(recipients))
	var rekeyed []*model.DeviceIdentity

	for _, r := range recipients {
		wasRekeyed := r.Device.RatchetState == nil
		msg, err := mgr.WriteWithRatchet(ctx, r.Device, func(state *ratchet.State, rekey bool) ([]byte, error) {
			return contentKey, nil
		})
		if err != nil {
			rollback(ctx, mgr, rekeyed)
			return nil, err
		}
		if wasRekeyed {
			rekeyed = append(rekeyed, r.Device)
		}
		keys = append(keys, ContainerKey{
			Username: r.Device.Username,
			DeviceID: r.Device.DeviceID.String(),
			Message:  *msg,
		})
	}

	env := &Envelope{Ciphertext: ciphertext, Keys: keys}
	b, err := env.signingBytes()
	if err != nil {
		rollback(ctx, mgr, rekeyed)
		return nil, err
	}
	env.Signature = ed25519.Sign(signingKey, b)
	return env, nil
}

// rollback clears and persists ratchet state on every device that received
// a fresh handshake during a failed Build, so the peer is not left holding
// a session the sender never completed. Persisting the clear matters: the
// fresh handshake was already written through WriteWithRatchet, so an
// in-memory-only clear would leave the store disagreeing with the struct
// the caller goes on to use.
func rollback(ctx context.Context, mgr *session.Manager, devices []*model.DeviceIdentity) {
	for _, d := range devices {
		_ = mgr.ClearRekey(ctx, d)
	}
}

// Open locates the container key addressed to (selfUsername, selfDeviceID),
// decrypts it, and opens the outer payload, verifying the outer signature
// against senderIdentity when that is a 32-byte Ed25519 key; with any
// other length (e.g. nil, when the sender has no Contact record) the outer
// signature is not checked. out receives the BSON-decoded body.
func Open(ctx context.Context, mgr *session.Manager, env *Envelope, senderIdentity ed25519.PublicKey, senderDevice *model.DeviceIdentity, selfUsername, selfDeviceID string, out any) error {
	b, err := env.signingBytes()
	if err != nil {
		return err
	}
	if len(senderIdentity) == ed25519.PublicKeySize && !ed25519.Verify(senderIdentity, b, env.Signature) {
		return cyphertextkit.ErrInvalidSignature
	}

	var target *ContainerKey
	for i := range env.Keys {
		if env.Keys[i].Username == selfUsername && env.Keys[i].DeviceID == selfDeviceID {
			target = &env.Keys[i]
			break
		}
	}
	if target == nil {
		return cyphertextkit.ErrInvalidMultiRecipient
	}

	contentKey, err := mgr.ReadWithRatchet(ctx, senderDevice, &target.Message)
	if err != nil {
		return err
	}
	if len(contentKey) != contentKeySize {
		return cyphertextkit.ErrInvalidMultiRecipient
	}

	payload, err := openOuter(contentKey, env.Ciphertext)
	if err != nil {
		return err
	}
	return bson.Unmarshal(payload, out)
}
