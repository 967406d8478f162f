package ratchet

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const rootInfo = "Cypher Protocol"

// messageKeyConstant and chainKeyConstant are the one-byte HMAC inputs used
// to derive the next message key and chain key from the current chain key.
var (
	messageKeyConstant = []byte{0x00}
	chainKeyConstant   = []byte{0x01}
	sharedInfo         = []byte{0x02, 0x03}
)

func hkdfSHA512(salt, ikm, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha512.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("ratchet: hkdf: %w", err)
	}
	return out, nil
}

// rootKDF derives a new root key and chain key from the current root key
// and a fresh DH output, using HKDF-SHA512 with info "Cypher Protocol".
func rootKDF(rootKey, dhOutput []byte) (newRootKey, newChainKey []byte, err error) {
	out, err := hkdfSHA512(rootKey, dhOutput, []byte(rootInfo), 64)
	if err != nil {
		return nil, nil, err
	}
	return out[:32], out[32:], nil
}

// chainKDF advances a chain key, producing the next message key and the
// next chain key. The message key is then expanded once more via HKDF
// with sharedInfo {0x02, 0x03} before it is used as the AEAD key, for
// domain separation between the chain-advance HMAC and the AEAD key.
func chainKDF(chainKey []byte) (messageKey, nextChainKey []byte, err error) {
	mac := hmac.New(sha512.New, chainKey)
	mac.Write(messageKeyConstant)
	mkSeed := mac.Sum(nil)

	mac = hmac.New(sha512.New, chainKey)
	mac.Write(chainKeyConstant)
	nextChainKey = mac.Sum(nil)[:32]

	messageKey, err = hkdfSHA512(nil, mkSeed, sharedInfo, 32)
	if err != nil {
		return nil, nil, err
	}
	return messageKey, nextChainKey, nil
}
