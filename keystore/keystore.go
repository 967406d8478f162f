// Package keystore implements AEAD-wrapped model records keyed by a
// device-local symmetric key, plus the password-derived key used to seal
// the local device config itself.
//
// Every persisted entity is serialized with BSON, then sealed with
// AES-256-GCM using a combined nonce‖ciphertext‖tag layout, mirroring the
// outer-envelope layout used throughout the rest of the library.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/hkdf"

	"github.com/orlandos-nl/cyphertextkit"
)

const (
	keySize   = 32
	nonceSize = 12
)

// DeriveAppKey derives the key used to seal the local device config itself:
// HKDF-SHA512(ikm = SHA-512(password), salt = deviceSalt, info = nil, 32 bytes).
func DeriveAppKey(password string, deviceSalt []byte) ([]byte, error) {
	sum := sha512.Sum512([]byte(password))
	r := hkdf.New(sha512.New, sum[:], deviceSalt, nil)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("keystore: derive app key: %w", err)
	}
	return key, nil
}

// Seal BSON-encodes v and AES-256-GCM seals it under key, returning
// nonce‖ciphertext‖tag.
func Seal(v any, key []byte) ([]byte, error) {
	plaintext, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal: %w", err)
	}
	return sealBytes(plaintext, key)
}

func sealBytes(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts ciphertext under key and BSON-decodes it into out.
// It fails with cyphertextkit.ErrCorruptConfig on any AEAD or decode failure.
func Open(ciphertext []byte, key []byte, out any) error {
	plaintext, err := openBytes(ciphertext, key)
	if err != nil {
		return err
	}
	if err := bson.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", cyphertextkit.ErrCorruptConfig, err)
	}
	return nil
}

func openBytes(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", cyphertextkit.ErrCorruptConfig)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cyphertextkit.ErrCorruptConfig, err)
	}
	return plaintext, nil
}

// CanDecrypt reports whether ciphertext can be opened with key, without
// returning the plaintext. Used for password verification.
func CanDecrypt(ciphertext []byte, key []byte) bool {
	_, err := openBytes(ciphertext, key)
	return err == nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", cyphertextkit.ErrCorruptConfig, keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}
	return gcm, nil
}
