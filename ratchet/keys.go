package ratchet

import (
	"crypto/ecdh"
	"crypto/rand"
)

// GenerateKeyPair generates a fresh X25519 ratchet key pair.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// dh performs an X25519 Diffie-Hellman exchange against a raw 32-byte
// public key.
func dh(priv *ecdh.PrivateKey, pub []byte) ([]byte, error) {
	remote, err := ecdh.X25519().NewPublicKey(pub)
	if err != nil {
		return nil, ErrInvalidKey
	}
	secret, err := priv.ECDH(remote)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return secret, nil
}
