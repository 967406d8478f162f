package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
)

const (
	gcmNonceSize = 12
)

// sealOuter encrypts plaintext under key with AES-256-GCM, returning the
// combined nonce‖ciphertext‖tag layout used throughout the wire format.
func sealOuter(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// openOuter reverses sealOuter.
func openOuter(key, combined []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(combined) < gcmNonceSize {
		return nil, cyphertextkit.ErrInvalidMultiRecipient
	}
	nonce, body := combined[:gcmNonceSize], combined[gcmNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, cyphertextkit.ErrInvalidMultiRecipient
	}
	return plaintext, nil
}
