package cyphertextkit

import "errors"

// Configuration/state errors. These surface to the caller and are never
// retried by the job queue.
var (
	ErrCorruptConfig      = errors.New("cyphertextkit: corrupt config")
	ErrCorruptUserConfig  = errors.New("cyphertextkit: corrupt user config")
	ErrInvalidUserConfig  = errors.New("cyphertextkit: invalid user config")
	ErrAppLocked          = errors.New("cyphertextkit: app is locked")
	ErrNotMasterDevice    = errors.New("cyphertextkit: not the master device")
	ErrCannotFindDevice   = errors.New("cyphertextkit: cannot find device config")
	ErrCannotRegister     = errors.New("cyphertextkit: cannot register device config")
)

// Crypto errors. On receive these are swallowed by the session manager,
// which triggers rekey recovery; on send they propagate to the caller.
var (
	ErrInvalidSignature       = errors.New("cyphertextkit: invalid signature")
	ErrInvalidHandshake       = errors.New("cyphertextkit: invalid handshake")
	ErrInvalidMultiRecipient  = errors.New("cyphertextkit: invalid multi-recipient key")
	ErrRatchetDecrypt         = errors.New("cyphertextkit: ratchet decrypt failed")
)

// Input errors. Always surfaced.
var (
	ErrBadInput           = errors.New("cyphertextkit: bad input")
	ErrUnsupportedTransport = errors.New("cyphertextkit: unsupported transport")
	ErrInvalidTransport   = errors.New("cyphertextkit: invalid transport")
)

// Network/availability. A halting condition for the job queue.
var ErrOffline = errors.New("cyphertextkit: offline")

// Duplicate message handling. The persistence layer rejects duplicate
// remoteIds; the pipeline treats this as a successful no-op.
var ErrDuplicateMessage = errors.New("cyphertextkit: duplicate message")
