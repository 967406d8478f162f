package sql

import (
	"context"
	"database/sql"
	"errors"
)

type deviceConfigStore Store

const (
	keyDeviceSalt   = "device_salt"
	keyDeviceConfig = "device_config"
)

func (d *deviceConfigStore) upsert(ctx context.Context, key string, value []byte) error {
	s := (*Store)(d)
	q := "INSERT INTO device_singleton (k, v) VALUES (" + s.phs(1, 2) + ") " +
		s.dialect.UpsertSuffix([]string{"k"}, []string{"v"})
	_, err := s.db.ExecContext(ctx, q, key, value)
	return err
}

func (d *deviceConfigStore) load(ctx context.Context, key string) ([]byte, bool, error) {
	s := (*Store)(d)
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT v FROM device_singleton WHERE k = "+s.ph(1), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (d *deviceConfigStore) SaveDeviceSalt(ctx context.Context, salt []byte) error {
	return d.upsert(ctx, keyDeviceSalt, salt)
}

func (d *deviceConfigStore) LoadDeviceSalt(ctx context.Context) ([]byte, bool, error) {
	return d.load(ctx, keyDeviceSalt)
}

func (d *deviceConfigStore) SaveDeviceConfig(ctx context.Context, sealed []byte) error {
	return d.upsert(ctx, keyDeviceConfig, sealed)
}

func (d *deviceConfigStore) LoadDeviceConfig(ctx context.Context) ([]byte, bool, error) {
	return d.load(ctx, keyDeviceConfig)
}
