package messenger

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/google/uuid"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/envelope"
)

// HandleEnvelope opens an inbound multi-recipient envelope addressed to
// the local device and dispatches the result through the pipeline. If
// senderDeviceID is not known locally, HandleEnvelope first rediscovers
// the sender's devices via RediscoverDeviceIdentities, so a cold first
// contact is resolved here.
func (m *Messenger) HandleEnvelope(ctx context.Context, env *envelope.Envelope, senderUsername string, senderDeviceID uuid.UUID) error {
	senderDevice, ok, err := m.GetDeviceIdentityByDeviceID(ctx, senderUsername, senderDeviceID)
	if err != nil {
		return err
	}
	if !ok {
		if err := m.identity.RediscoverDeviceIdentities(ctx, senderUsername); err != nil {
			return err
		}
		senderDevice, ok, err = m.GetDeviceIdentityByDeviceID(ctx, senderUsername, senderDeviceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown sender device", cyphertextkit.ErrBadInput)
		}
	}

	var senderIdentity ed25519.PublicKey
	if contact, ok, err := m.GetContact(ctx, senderUsername); err != nil {
		return err
	} else if ok {
		senderIdentity = contact.UserConfig.Identity
	}

	var body wireMessage
	if err := envelope.Open(ctx, m.session, env, senderIdentity, senderDevice, m.local.Username, m.local.DeviceID.String(), &body); err != nil {
		return err
	}

	msg := m.toSingleMessage(body, senderUsername, senderDeviceID, senderDevice.IsMasterDevice)
	return m.pipeline.Dispatch(ctx, msg)
}
