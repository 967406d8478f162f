package messenger

import (
	"time"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/pipeline"
)

// wireMessage is the plaintext body sealed inside an envelope's outer
// ciphertext. It is shared verbatim across every addressed recipient
// device; Target is deliberately not part of it; the receiving
// Messenger reconstructs routing from who sent it and who it is
// opened by, so one envelope can fan out to both a peer's devices and
// the sender's own sibling devices with one shared ciphertext.
type wireMessage struct {
	Type     model.MessageType `bson:"type"`
	Subtype  string             `bson:"subtype,omitempty"`
	Text     string             `bson:"text,omitempty"`
	Metadata map[string]any     `bson:"metadata,omitempty"`
	SentDate time.Time          `bson:"sentDate"`
	Order    int                `bson:"order"`
	RemoteID string             `bson:"remoteId"`
	GroupID  string             `bson:"groupId,omitempty"`
}

// toSingleMessage reconstructs the Target a just-opened wireMessage
// routes to, from the perspective of the local device that opened it.
// senderIsMaster reports whether the sending device is the sender's own
// master device, per its DeviceIdentity.
func (m *Messenger) toSingleMessage(body wireMessage, senderUsername string, senderDeviceID uuid.UUID, senderIsMaster bool) pipeline.SingleMessage {
	var target model.MessageTarget
	switch {
	case senderUsername == m.local.Username:
		target = model.MessageTarget{Kind: model.TargetCurrentUser}
	case body.GroupID != "":
		target = model.MessageTarget{Kind: model.TargetGroupChat, GroupID: body.GroupID}
	default:
		target = model.MessageTarget{Kind: model.TargetOtherUser, Username: senderUsername}
	}

	sentDate := body.SentDate
	return pipeline.SingleMessage{
		Type:           body.Type,
		Subtype:        body.Subtype,
		Text:           body.Text,
		Metadata:       body.Metadata,
		SentDate:       &sentDate,
		Order:          body.Order,
		Target:         target,
		RemoteID:       body.RemoteID,
		SenderUsername: senderUsername,
		SenderDeviceID: senderDeviceID,
		SenderIsMaster: senderIsMaster,
	}
}
