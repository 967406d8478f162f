package ratchet

import (
	"bytes"
	"testing"
)

func handshake(t *testing.T) (*State, *State) {
	t.Helper()
	bobKeys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	root, err := DeriveSymmetricKey([]byte("shared-secret-material-32-bytes!"), "alice")
	if err != nil {
		t.Fatalf("DeriveSymmetricKey: %v", err)
	}

	alice, err := InitializeSender(root, bobKeys.PublicKey().Bytes())
	if err != nil {
		t.Fatalf("InitializeSender: %v", err)
	}
	bob, err := InitializeRecipient(root, bobKeys)
	if err != nil {
		t.Fatalf("InitializeRecipient: %v", err)
	}
	return alice, bob
}

func TestRoundTrip(t *testing.T) {
	alice, bob := handshake(t)

	h, ct, err := alice.Encrypt([]byte("hello bob"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := bob.Decrypt(h, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, []byte("hello bob")) {
		t.Fatalf("got %q, want %q", pt, "hello bob")
	}
}

func TestBidirectional(t *testing.T) {
	alice, bob := handshake(t)

	h, ct, err := alice.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := bob.Decrypt(h, ct); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	h, ct, err = bob.Encrypt([]byte("pong"))
	if err != nil {
		t.Fatalf("Encrypt (bob): %v", err)
	}
	pt, err := alice.Decrypt(h, ct)
	if err != nil {
		t.Fatalf("Decrypt (alice): %v", err)
	}
	if !bytes.Equal(pt, []byte("pong")) {
		t.Fatalf("got %q, want %q", pt, "pong")
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	alice, bob := handshake(t)

	type msg struct {
		header, ciphertext []byte
	}
	var msgs []msg
	for i := 0; i < 5; i++ {
		h, ct, err := alice.Encrypt([]byte{byte(i)})
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		msgs = append(msgs, msg{h, ct})
	}

	// Deliver in reverse order; bob must cache skipped keys and still
	// decrypt every message correctly.
	for i := len(msgs) - 1; i >= 0; i-- {
		pt, err := bob.Decrypt(msgs[i].header, msgs[i].ciphertext)
		if err != nil {
			t.Fatalf("Decrypt msg %d: %v", i, err)
		}
		if pt[0] != byte(i) {
			t.Fatalf("msg %d: got %v, want %v", i, pt, []byte{byte(i)})
		}
	}
}

func TestSkippedKeyLimitExceeded(t *testing.T) {
	alice, bob := handshake(t)

	var last struct {
		header, ciphertext []byte
	}
	for i := 0; i < maxSkippedKeys+5; i++ {
		h, ct, err := alice.Encrypt([]byte("x"))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		last.header, last.ciphertext = h, ct
	}

	if _, err := bob.Decrypt(last.header, last.ciphertext); err != ErrSkippedKeyLimit {
		t.Fatalf("Decrypt: got %v, want ErrSkippedKeyLimit", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice, bob := handshake(t)

	h, ct, err := alice.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF

	if _, err := bob.Decrypt(h, ct); err != ErrDecrypt {
		t.Fatalf("Decrypt: got %v, want ErrDecrypt", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	alice, bob := handshake(t)

	h, ct, err := alice.Encrypt([]byte("persist me"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	data, err := bob.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var restored State
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	pt, err := restored.Decrypt(h, ct)
	if err != nil {
		t.Fatalf("Decrypt after restore: %v", err)
	}
	if !bytes.Equal(pt, []byte("persist me")) {
		t.Fatalf("got %q, want %q", pt, "persist me")
	}
}

func TestDeriveSymmetricKeyDeterministic(t *testing.T) {
	secret := []byte("01234567890123456789012345678901")
	k1, err := DeriveSymmetricKey(secret, "Alice")
	if err != nil {
		t.Fatalf("DeriveSymmetricKey: %v", err)
	}
	k2, err := DeriveSymmetricKey(secret, "alice")
	if err != nil {
		t.Fatalf("DeriveSymmetricKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("DeriveSymmetricKey not case-insensitive on initiator username")
	}

	k3, err := DeriveSymmetricKey(secret, "bob")
	if err != nil {
		t.Fatalf("DeriveSymmetricKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("DeriveSymmetricKey produced identical keys for different initiators")
	}
}
