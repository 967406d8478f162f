package ratchet

import (
	"crypto/sha512"
	"strings"
)

const x3dhInfo = "X3DHTemporaryReplacement"

// DeriveSymmetricKey turns a raw X3DH Diffie-Hellman output into the
// 32-byte root key that seeds a new ratchet session. The salt is
// SHA-512(lowercased(initiatorUsername)); this ties the derived root key
// to the session's initiator so that both sides of a handshake, computing
// the same dhSecret, land on the same root key only when they agree on
// who initiated.
func DeriveSymmetricKey(dhSecret []byte, initiatorUsername string) ([]byte, error) {
	sum := sha512.Sum512([]byte(strings.ToLower(initiatorUsername)))
	return hkdfSHA512(sum[:], dhSecret, []byte(x3dhInfo), 32)
}
