// Package messenger is the top-level façade: it wires keystore, identity,
// session, envelope, queue, pipeline, storage, hooks, and transport into a
// single client and exposes the operations an application drives directly
// (sending messages, handing inbound envelopes to the pipeline, starting
// and draining the outbound queue).
package messenger

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/hooks"
	"github.com/orlandos-nl/cyphertextkit/identity"
	"github.com/orlandos-nl/cyphertextkit/keystore"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/pipeline"
	"github.com/orlandos-nl/cyphertextkit/queue"
	"github.com/orlandos-nl/cyphertextkit/session"
	"github.com/orlandos-nl/cyphertextkit/storage"
	"github.com/orlandos-nl/cyphertextkit/transport"
)

const deviceSaltSize = 16

// senderIDDrawRange mirrors identity's own range: a uniform value in
// [1, 2^63), used to pick the local device's stable sender id on first
// bootstrap.
var senderIDDrawRange = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1))

// Config bootstraps a Messenger. Username is only consulted the first
// time a device is opened against an empty Store; on every later open the
// persisted DeviceConfig wins. DisplayName is not read when opening.
type Config struct {
	Password    string
	Username    string
	DisplayName string
	Store       storage.Store
	Transport   transport.Transport
	Hooks       *hooks.Hooks
}

// Messenger is the wired client. It implements every small collaborator
// interface the domain packages declare (identity.Store, session.Store,
// queue.Store, pipeline.Store, pipeline.DeviceRegistry, pipeline.Hooks,
// pipeline.Receipts, pipeline.P2P, session.Delegate, identity.Delegate,
// queue.Connectivity) itself, rather than through satellite adapter
// types, since none of their method sets collide.
type Messenger struct {
	store     storage.Store
	key       []byte
	hooks     *hooks.Hooks
	transport transport.Transport

	local      model.DeviceConfig
	signingKey ed25519.PrivateKey

	identity *identity.Manager
	session  *session.Manager
	pipeline *pipeline.Pipeline
	registry *queue.Registry
	queue    *queue.Queue
}

// Open loads (or, on first run, creates) the local device config, derives
// its app key from password, and wires every domain manager together.
func Open(ctx context.Context, cfg Config) (*Messenger, error) {
	if cfg.Store == nil || cfg.Transport == nil {
		return nil, cyphertextkit.ErrBadInput
	}
	if err := cfg.Store.Init(ctx); err != nil {
		return nil, fmt.Errorf("messenger: init store: %w", err)
	}

	dcs := cfg.Store.DeviceConfigStore()
	salt, ok, err := dcs.LoadDeviceSalt(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		salt = make([]byte, deviceSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		if err := dcs.SaveDeviceSalt(ctx, salt); err != nil {
			return nil, err
		}
	}

	key, err := keystore.DeriveAppKey(cfg.Password, salt)
	if err != nil {
		return nil, err
	}

	local, err := loadOrCreateDeviceConfig(ctx, dcs, key, cfg)
	if err != nil {
		return nil, err
	}

	m := &Messenger{
		store:     cfg.Store,
		key:       key,
		hooks:     cfg.Hooks,
		transport: cfg.Transport,
		local:     local,
	}

	m.identity = identity.New(m, registryAdapter{m.transport}, m, local.Username, local.DeviceID, local.SenderID)

	m.signingKey = ed25519.NewKeyFromSeed(local.IdentityPrivateKey)
	agreementKey, err := ecdh.X25519().NewPrivateKey(local.AgreementPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: agreement key", cyphertextkit.ErrCorruptConfig)
	}
	m.session = session.New(session.LocalIdentity{
		Username:     local.Username,
		SigningKey:   m.signingKey,
		AgreementKey: agreementKey,
	}, m, m)

	m.pipeline = pipeline.New(local.Username, local.DeviceID, m, m, m, m, m)

	m.registry = queue.NewRegistry()
	if err := m.registerTasks(); err != nil {
		return nil, err
	}
	m.queue = queue.New(m.registry, m, m)
	if err := m.queue.LoadPending(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

// Close releases the underlying storage backend.
func (m *Messenger) Close() error {
	return m.store.Close()
}

// Username is the local user this Messenger acts as.
func (m *Messenger) Username() string { return m.local.Username }

// DeviceID is the local device id this Messenger acts as.
func (m *Messenger) DeviceID() uuid.UUID { return m.local.DeviceID }

// Pipeline exposes the inbound dispatcher for callers that decrypt
// envelopes themselves before handing the result in.
func (m *Messenger) Pipeline() *pipeline.Pipeline { return m.pipeline }

// Queue exposes the durable outbound worker, e.g. so an application can
// Pause/Resume it around connectivity changes or call
// AwaitDoneProcessing before suspending.
func (m *Messenger) Queue() *queue.Queue { return m.queue }

func loadOrCreateDeviceConfig(ctx context.Context, dcs storage.DeviceConfigStore, key []byte, cfg Config) (model.DeviceConfig, error) {
	sealed, ok, err := dcs.LoadDeviceConfig(ctx)
	if err != nil {
		return model.DeviceConfig{}, err
	}
	if ok {
		var local model.DeviceConfig
		if err := keystore.Open(sealed, key, &local); err != nil {
			return model.DeviceConfig{}, cyphertextkit.ErrAppLocked
		}
		return local, nil
	}

	if cfg.Username == "" {
		return model.DeviceConfig{}, fmt.Errorf("%w: username required to bootstrap a new device", cyphertextkit.ErrBadInput)
	}

	idPub, idPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return model.DeviceConfig{}, err
	}
	_ = idPub
	agreementKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return model.DeviceConfig{}, err
	}
	senderID, err := randomSenderID()
	if err != nil {
		return model.DeviceConfig{}, err
	}

	local := model.DeviceConfig{
		ID:                  uuid.New(),
		Username:            cfg.Username,
		DeviceID:            uuid.New(),
		SenderID:            senderID,
		RegistryMode:        model.RegistryModeUnregistered,
		IdentityPrivateKey:  idPriv.Seed(),
		AgreementPrivateKey: agreementKey.Bytes(),
	}

	sealed, err := keystore.Seal(local, key)
	if err != nil {
		return model.DeviceConfig{}, err
	}
	if err := dcs.SaveDeviceConfig(ctx, sealed); err != nil {
		return model.DeviceConfig{}, err
	}
	return local, nil
}

func randomSenderID() (int64, error) {
	n, err := rand.Int(rand.Reader, senderIDDrawRange)
	if err != nil {
		return 0, err
	}
	return n.Int64() + 1, nil
}

// registryAdapter adapts a transport.Transport's key-bundle fetch to the
// identity.Registry interface.
type registryAdapter struct{ t transport.Transport }

func (r registryAdapter) FetchUserConfig(ctx context.Context, username string) (*model.UserConfig, error) {
	return r.t.ReadKeyBundle(ctx, username)
}
