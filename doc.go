// Package cyphertextkit provides a client-side library for end-to-end
// encrypted multi-device messaging.
//
// A user, identified by a username, owns one or more devices. Each device
// holds long-lived signing and key-agreement keys. Any two devices exchange
// confidential, authenticated, forward-secret messages through an untrusted
// relay by way of per-peer Double Ratchet sessions seeded with X3DH.
//
// The library is organized into several layers, leaves first:
//
//   - model: persisted entity types shared by every other package
//   - keystore: AEAD-sealed record storage keyed by a password-derived key
//   - ratchet: the Double Ratchet + X3DH cryptographic engine
//   - session: per-device-identity session manager with rekey recovery
//   - envelope: multi-device fan-out ("multi-recipient") envelopes
//   - identity: peer/device registry and identity-consistency checks
//   - queue: the durable, ordered job queue that drives outbound work
//   - pipeline: inbound envelope dispatch and the delivery state machine
//   - storage: pluggable persistence backends (memory, SQL family, Redis, MongoDB)
//   - messenger: the façade that wires all of the above together
//
// The transport (wire protocol with the relay), UI-facing conversation
// facades, and group-membership cryptography are treated as external
// collaborators and are not implemented by this module; see the transport
// and hooks packages for the interfaces this library consumes and exposes.
package cyphertextkit
