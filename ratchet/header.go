package ratchet

import (
	"crypto/sha256"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const associatedDataSuffix = "Cypher ChatMessage"

// Header is the cleartext ratchet header sent alongside every encrypted
// message. It carries the sender's current DH public key along with the
// chain-length bookkeeping needed to detect skipped messages.
type Header struct {
	DHPublicKey []byte `bson:"dh"`
	PN          uint32 `bson:"pn"` // length of the previous sending chain
	N           uint32 `bson:"n"`  // message number in the current sending chain
}

// marshalHeader BSON-encodes a header for wire transmission.
func marshalHeader(h Header) ([]byte, error) {
	return bson.Marshal(h)
}

// unmarshalHeader decodes a BSON-encoded header.
func unmarshalHeader(data []byte) (Header, error) {
	var h Header
	if err := bson.Unmarshal(data, &h); err != nil {
		return Header{}, ErrHeaderDecode
	}
	return h, nil
}

// associatedData binds the AEAD ciphertext to the exact bytes of the
// header that accompanied it, via SHA-256(headerBytes ‖ "Cypher ChatMessage").
func associatedData(headerBytes []byte) []byte {
	h := sha256.New()
	h.Write(headerBytes)
	h.Write([]byte(associatedDataSuffix))
	return h.Sum(nil)
}
