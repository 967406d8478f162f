package messenger

import (
	"context"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/keystore"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/storage"
)

// The methods in this file implement identity.Store, session.Store (a
// single shared method, SaveDeviceIdentity), and queue.Store by sealing
// and opening model values against the storage package's opaque Record
// blobs. conversations.go, delegates.go and messenger.go seal the records
// they own through the same keystore.Seal/Open path.

func (m *Messenger) GetContact(ctx context.Context, username string) (*model.Contact, bool, error) {
	rec, ok, err := m.store.ContactStore().GetContactByUsername(ctx, username)
	if err != nil || !ok {
		return nil, false, err
	}
	var c model.Contact
	if err := keystore.Open(rec.Props, m.key, &c); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (m *Messenger) SaveContact(ctx context.Context, c *model.Contact) error {
	sealed, err := keystore.Seal(c, m.key)
	if err != nil {
		return err
	}
	return m.store.ContactStore().PutContact(ctx, storage.ContactRecord{
		Record:   storage.Record{ID: c.ID, Props: sealed},
		Username: c.Username,
	})
}

func (m *Messenger) ListDeviceIdentities(ctx context.Context, username string) ([]*model.DeviceIdentity, error) {
	recs, err := m.store.DeviceIdentityStore().ListDeviceIdentitiesByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	out := make([]*model.DeviceIdentity, 0, len(recs))
	for _, rec := range recs {
		var d model.DeviceIdentity
		if err := keystore.Open(rec.Props, m.key, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, nil
}

func (m *Messenger) GetDeviceIdentityByDeviceID(ctx context.Context, username string, deviceID uuid.UUID) (*model.DeviceIdentity, bool, error) {
	rec, ok, err := m.store.DeviceIdentityStore().GetDeviceIdentityByDeviceID(ctx, username, deviceID)
	if err != nil || !ok {
		return nil, false, err
	}
	var d model.DeviceIdentity
	if err := keystore.Open(rec.Props, m.key, &d); err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

// SaveDeviceIdentity satisfies both identity.Store and session.Store:
// session state changes and identity metadata changes share one
// persisted record, so both domains write through the same method.
func (m *Messenger) SaveDeviceIdentity(ctx context.Context, d *model.DeviceIdentity) error {
	sealed, err := keystore.Seal(d, m.key)
	if err != nil {
		return err
	}
	return m.store.DeviceIdentityStore().PutDeviceIdentity(ctx, storage.DeviceIdentityRecord{
		Record:   storage.Record{ID: d.ID, Props: sealed},
		Username: d.Username,
		DeviceID: d.DeviceID,
	})
}

func (m *Messenger) SaveJob(ctx context.Context, job *model.Job) error {
	sealed, err := keystore.Seal(job, m.key)
	if err != nil {
		return err
	}
	return m.store.JobStore().PutJob(ctx, storage.JobRecord{
		Record:      storage.Record{ID: job.ID, Props: sealed},
		ScheduledAt: job.ScheduledAt,
	})
}

func (m *Messenger) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return m.store.JobStore().DeleteJob(ctx, id)
}

func (m *Messenger) ListJobs(ctx context.Context) ([]*model.Job, error) {
	recs, err := m.store.JobStore().ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(recs))
	for _, rec := range recs {
		var j model.Job
		if err := keystore.Open(rec.Props, m.key, &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, nil
}
