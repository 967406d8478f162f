package ratchet

import (
	"bytes"
	"crypto/ecdh"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// maxSkippedKeys bounds both the per-call skip distance and the total
// number of cached skipped message keys.
const maxSkippedKeys = 100

// skippedKey identifies a cached out-of-order message key by the sender
// ratchet public key and message index it was skipped under.
type skippedKey struct {
	DHPub [32]byte
	N     uint32
}

// State holds one side of a Double Ratchet session. Zero value is not
// usable; construct with InitializeSender or InitializeRecipient.
type State struct {
	dhSelf  *ecdh.PrivateKey
	dhOther []byte // 32-byte remote public key, nil until first receive

	rootKey []byte
	cks     []byte // sending chain key
	ckr     []byte // receiving chain key

	ns, nr, pn uint32

	skipped map[skippedKey][]byte
}

// InitializeSender starts a ratchet session as the handshake initiator.
// rootKey is the X3DH-derived symmetric key (see DeriveSymmetricKey), and
// remotePublicKey is the recipient's initial ratchet public key.
func InitializeSender(rootKey, remotePublicKey []byte) (*State, error) {
	dhs, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	dhOut, err := dh(dhs, remotePublicKey)
	if err != nil {
		return nil, err
	}
	rk, cks, err := rootKDF(rootKey, dhOut)
	if err != nil {
		return nil, err
	}
	return &State{
		dhSelf:  dhs,
		dhOther: append([]byte(nil), remotePublicKey...),
		rootKey: rk,
		cks:     cks,
		skipped: make(map[skippedKey][]byte),
	}, nil
}

// InitializeRecipient starts a ratchet session as the handshake responder.
// localPrivateKey is the key whose public half the initiator used as
// remotePublicKey above; the root key ratchets forward on the first
// incoming message, as is standard for the responder side.
func InitializeRecipient(rootKey []byte, localPrivateKey *ecdh.PrivateKey) (*State, error) {
	return &State{
		dhSelf:  localPrivateKey,
		rootKey: rootKey,
		skipped: make(map[skippedKey][]byte),
	}, nil
}

// Encrypt advances the sending chain and seals plaintext, returning the
// wire-ready header bytes and ciphertext.
func (s *State) Encrypt(plaintext []byte) (headerBytes, ciphertext []byte, err error) {
	mk, nextCK, err := chainKDF(s.cks)
	if err != nil {
		return nil, nil, err
	}
	s.cks = nextCK

	h := Header{
		DHPublicKey: s.dhSelf.PublicKey().Bytes(),
		N:           s.ns,
		PN:          s.pn,
	}
	s.ns++

	headerBytes, err = marshalHeader(h)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err = seal(mk, plaintext, associatedData(headerBytes))
	if err != nil {
		return nil, nil, err
	}
	return headerBytes, ciphertext, nil
}

// Decrypt reverses Encrypt, performing a DH ratchet step and/or catching
// up skipped keys as needed.
func (s *State) Decrypt(headerBytes, ciphertext []byte) ([]byte, error) {
	h, err := unmarshalHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	ad := associatedData(headerBytes)

	if plaintext, ok := s.trySkipped(h, ciphertext, ad); ok {
		return plaintext, nil
	}

	if s.dhOther == nil || !bytes.Equal(h.DHPublicKey, s.dhOther) {
		if err := s.skipMessageKeys(h.PN); err != nil {
			return nil, err
		}
		if err := s.dhRatchetStep(h.DHPublicKey); err != nil {
			return nil, err
		}
	}

	if err := s.skipMessageKeys(h.N); err != nil {
		return nil, err
	}

	mk, nextCK, err := chainKDF(s.ckr)
	if err != nil {
		return nil, err
	}
	s.ckr = nextCK
	s.nr++

	plaintext, err := open(mk, ciphertext, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (s *State) trySkipped(h Header, ciphertext, ad []byte) ([]byte, bool) {
	var k skippedKey
	copy(k.DHPub[:], h.DHPublicKey)
	k.N = h.N

	mk, ok := s.skipped[k]
	if !ok {
		return nil, false
	}
	delete(s.skipped, k)

	plaintext, err := open(mk, ciphertext, ad)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

func (s *State) skipMessageKeys(until uint32) error {
	if s.ckr == nil {
		return nil
	}
	if until > s.nr+maxSkippedKeys {
		return ErrSkippedKeyLimit
	}
	for s.nr < until {
		mk, nextCK, err := chainKDF(s.ckr)
		if err != nil {
			return err
		}
		s.ckr = nextCK

		var k skippedKey
		copy(k.DHPub[:], s.dhOther)
		k.N = s.nr
		s.skipped[k] = mk
		s.nr++

		if len(s.skipped) > maxSkippedKeys {
			return ErrSkippedKeyLimit
		}
	}
	return nil
}

func (s *State) dhRatchetStep(newDHOther []byte) error {
	s.pn = s.ns
	s.ns = 0
	s.nr = 0
	s.dhOther = append([]byte(nil), newDHOther...)

	dhOut, err := dh(s.dhSelf, s.dhOther)
	if err != nil {
		return err
	}
	rk, ckr, err := rootKDF(s.rootKey, dhOut)
	if err != nil {
		return err
	}
	s.rootKey = rk
	s.ckr = ckr

	s.dhSelf, err = GenerateKeyPair()
	if err != nil {
		return err
	}
	dhOut, err = dh(s.dhSelf, s.dhOther)
	if err != nil {
		return err
	}
	rk, cks, err := rootKDF(s.rootKey, dhOut)
	if err != nil {
		return err
	}
	s.rootKey = rk
	s.cks = cks
	return nil
}

// wireState is the BSON-serializable projection of State, used by
// MarshalBinary/UnmarshalBinary to persist ratchet state between process
// restarts.
type wireState struct {
	DHSelf  []byte            `bson:"dhSelf"`
	DHOther []byte            `bson:"dhOther,omitempty"`
	RootKey []byte            `bson:"rootKey"`
	CKs     []byte            `bson:"cks,omitempty"`
	CKr     []byte            `bson:"ckr,omitempty"`
	Ns      uint32            `bson:"ns"`
	Nr      uint32            `bson:"nr"`
	PN      uint32            `bson:"pn"`
	Skipped []wireSkippedItem `bson:"skipped,omitempty"`
}

type wireSkippedItem struct {
	DHPub []byte `bson:"dhPub"`
	N     uint32 `bson:"n"`
	Key   []byte `bson:"key"`
}

// MarshalBinary serializes the ratchet state to BSON for storage in a
// sealed record.
func (s *State) MarshalBinary() ([]byte, error) {
	w := wireState{
		DHSelf:  s.dhSelf.Bytes(),
		DHOther: s.dhOther,
		RootKey: s.rootKey,
		CKs:     s.cks,
		CKr:     s.ckr,
		Ns:      s.ns,
		Nr:      s.nr,
		PN:      s.pn,
	}
	for k, v := range s.skipped {
		dhPub := append([]byte(nil), k.DHPub[:]...)
		w.Skipped = append(w.Skipped, wireSkippedItem{DHPub: dhPub, N: k.N, Key: v})
	}
	return bson.Marshal(w)
}

// UnmarshalBinary reverses MarshalBinary.
func (s *State) UnmarshalBinary(data []byte) error {
	var w wireState
	if err := bson.Unmarshal(data, &w); err != nil {
		return ErrHeaderDecode
	}
	priv, err := ecdh.X25519().NewPrivateKey(w.DHSelf)
	if err != nil {
		return ErrInvalidKey
	}
	s.dhSelf = priv
	s.dhOther = w.DHOther
	s.rootKey = w.RootKey
	s.cks = w.CKs
	s.ckr = w.CKr
	s.ns = w.Ns
	s.nr = w.Nr
	s.pn = w.PN
	s.skipped = make(map[skippedKey][]byte, len(w.Skipped))
	for _, item := range w.Skipped {
		var k skippedKey
		copy(k.DHPub[:], item.DHPub)
		k.N = item.N
		s.skipped[k] = item.Key
	}
	return nil
}

// PublicKey returns this state's current outgoing ratchet public key, the
// value a peer must DH against to address us.
func (s *State) PublicKey() []byte {
	return s.dhSelf.PublicKey().Bytes()
}
