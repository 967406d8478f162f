package sql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

type deviceIdentityStore Store

func (d *deviceIdentityStore) PutDeviceIdentity(ctx context.Context, rec storage.DeviceIdentityRecord) error {
	s := (*Store)(d)
	q := "INSERT INTO device_identities (id, username, device_id, props) VALUES (" + s.phs(1, 4) + ") " +
		s.dialect.UpsertSuffix([]string{"id"}, []string{"username", "device_id", "props"})
	_, err := s.db.ExecContext(ctx, q, rec.ID.String(), rec.Username, rec.DeviceID.String(), rec.Props)
	return err
}

func scanDeviceIdentity(scan func(dest ...any) error) (storage.DeviceIdentityRecord, bool, error) {
	var idStr, deviceIDStr string
	var rec storage.DeviceIdentityRecord
	err := scan(&idStr, &rec.Username, &deviceIDStr, &rec.Props)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DeviceIdentityRecord{}, false, nil
	}
	if err != nil {
		return storage.DeviceIdentityRecord{}, false, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return storage.DeviceIdentityRecord{}, false, err
	}
	deviceID, err := uuid.Parse(deviceIDStr)
	if err != nil {
		return storage.DeviceIdentityRecord{}, false, err
	}
	rec.ID = id
	rec.DeviceID = deviceID
	return rec, true, nil
}

func (d *deviceIdentityStore) GetDeviceIdentity(ctx context.Context, id uuid.UUID) (storage.DeviceIdentityRecord, bool, error) {
	s := (*Store)(d)
	row := s.db.QueryRowContext(ctx, "SELECT id, username, device_id, props FROM device_identities WHERE id = "+s.ph(1), id.String())
	return scanDeviceIdentity(row.Scan)
}

func (d *deviceIdentityStore) GetDeviceIdentityByDeviceID(ctx context.Context, username string, deviceID uuid.UUID) (storage.DeviceIdentityRecord, bool, error) {
	s := (*Store)(d)
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, device_id, props FROM device_identities WHERE username = "+s.ph(1)+" AND device_id = "+s.ph(2),
		username, deviceID.String(),
	)
	return scanDeviceIdentity(row.Scan)
}

func (d *deviceIdentityStore) ListDeviceIdentitiesByUsername(ctx context.Context, username string) ([]storage.DeviceIdentityRecord, error) {
	s := (*Store)(d)
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, device_id, props FROM device_identities WHERE username = "+s.ph(1), username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.DeviceIdentityRecord
	for rows.Next() {
		rec, _, err := scanDeviceIdentity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
