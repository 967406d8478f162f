package ratchet

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

// seal encrypts plaintext under key using ChaCha20-Poly1305, returning
// nonce‖ciphertext‖tag as a single slice.
func seal(key, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, associatedData), nil
}

// open reverses seal, returning ErrDecrypt on any failure.
func open(key, ciphertext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, associatedData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
