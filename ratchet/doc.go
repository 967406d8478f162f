// Package ratchet implements an X3DH-initiated Double Ratchet session.
//
// All implementations of the wire format MUST agree on the following
// constants: HKDF-SHA512 for root-key derivation with info
// "Cypher Protocol", an HMAC-style chain/message-key derivation using the
// one-byte constants 0x00 (message key) and 0x01 (chain key) with shared
// info {0x02, 0x03}, ChaCha20-Poly1305 as the message AEAD, BSON-encoded
// ratchet headers, and SHA-256(header ‖ "Cypher ChatMessage") as the AEAD
// associated data. At most 100 skipped message keys are cached per chain.
package ratchet
