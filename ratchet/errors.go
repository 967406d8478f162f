package ratchet

import "errors"

var (
	// ErrInvalidKey is returned when a public or private key is malformed.
	ErrInvalidKey = errors.New("ratchet: invalid key")

	// ErrDecrypt is returned when authenticated decryption of a message
	// fails. Skip-budget overruns and unparseable headers have their own
	// errors below. The session package reports receive-side failures as
	// cyphertextkit.ErrRatchetDecrypt; this error is kept local so this
	// package has no dependency on the root module.
	ErrDecrypt = errors.New("ratchet: decrypt failed")

	// ErrSkippedKeyLimit is returned when a message would require caching
	// more than the configured maximum number of skipped message keys.
	ErrSkippedKeyLimit = errors.New("ratchet: skipped message key limit exceeded")

	// ErrHeaderDecode is returned when a BSON-encoded header cannot be parsed.
	ErrHeaderDecode = errors.New("ratchet: header decode failed")
)
