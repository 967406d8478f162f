package messenger

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/envelope"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/session"
	"github.com/orlandos-nl/cyphertextkit/storage/memory"
	"github.com/orlandos-nl/cyphertextkit/transport"
)

// directory is a shared, in-memory key-bundle registry standing in for a
// relay's directory service.
type directory struct {
	mu      sync.Mutex
	bundles map[string]model.UserConfig
}

func newDirectory() *directory {
	return &directory{bundles: make(map[string]model.UserConfig)}
}

func (d *directory) publish(username string, cfg model.UserConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bundles[username] = cfg
}

func (d *directory) fetch(username string) (*model.UserConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg, ok := d.bundles[username]
	if !ok {
		return &model.UserConfig{}, nil
	}
	return &cfg, nil
}

// fakeTransport loops envelopes straight into the test, instead of over a
// network: SendMultiRecipientMessage appends to a log the test drains by
// hand, simulating relay delivery one hop at a time.
type fakeTransport struct {
	username string
	dir      *directory

	mu  sync.Mutex
	out []*envelope.Envelope
}

func (t *fakeTransport) ReadKeyBundle(ctx context.Context, username string) (*model.UserConfig, error) {
	return t.dir.fetch(username)
}

func (t *fakeTransport) PublishKeyBundle(ctx context.Context, config model.UserConfig) error {
	t.dir.publish(t.username, config)
	return nil
}

func (t *fakeTransport) SendMessage(ctx context.Context, msg *session.RatchetedCypherMessage, toUsername string, toDevice uuid.UUID, push transport.PushType, messageID string) error {
	return nil
}

func (t *fakeTransport) SendMultiRecipientMessage(ctx context.Context, env *envelope.Envelope, push transport.PushType, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out = append(t.out, env)
	return nil
}

func (t *fakeTransport) SupportsMultiRecipient() bool { return true }

func (t *fakeTransport) SendMessageReadReceipt(ctx context.Context, toUsername string, toDevice uuid.UUID, remoteID string) error {
	return nil
}

func (t *fakeTransport) SendMessageReceivedReceipt(ctx context.Context, toUsername string, toDevice uuid.UUID, remoteID string) error {
	return nil
}

func (t *fakeTransport) RequestDeviceRegistery(ctx context.Context, udc model.UserDeviceConfig) error {
	return nil
}

func (t *fakeTransport) Authenticated() bool { return true }
func (t *fakeTransport) Online() bool        { return true }

func (t *fakeTransport) lastEnvelope() *envelope.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.out) == 0 {
		return nil
	}
	return t.out[len(t.out)-1]
}

// userConfigFor builds the signed UserConfig a real directory would serve
// for m's single device, from its locally held keys.
func userConfigFor(t *testing.T, m *Messenger) model.UserConfig {
	t.Helper()
	agreementKey, err := ecdh.X25519().NewPrivateKey(m.local.AgreementPrivateKey)
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pub := m.signingKey.Public().(ed25519.PublicKey)
	return model.UserConfig{
		Identity: pub,
		Devices: []model.UserDeviceConfig{{
			DeviceID:       m.local.DeviceID,
			PublicKey:      agreementKey.PublicKey().Bytes(),
			IdentityKey:    pub,
			IsMasterDevice: true,
			DeviceName:     "test-device",
		}},
	}
}

func openTestMessenger(t *testing.T, username string, tr *fakeTransport) *Messenger {
	t.Helper()
	m, err := Open(context.Background(), Config{
		Password:  "correct horse battery staple",
		Username:  username,
		Store:     memory.New(),
		Transport: tr,
	})
	if err != nil {
		t.Fatalf("Open(%s): %v", username, err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSendTextRoundTripsBetweenTwoUsers(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	aliceTransport := &fakeTransport{username: "alice", dir: dir}
	bobTransport := &fakeTransport{username: "bob", dir: dir}

	alice := openTestMessenger(t, "alice", aliceTransport)
	bob := openTestMessenger(t, "bob", bobTransport)

	dir.publish("alice", userConfigFor(t, alice))
	dir.publish("bob", userConfigFor(t, bob))

	target := model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"}
	sent, err := alice.SendText(ctx, target, "hello bob", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}

	env := aliceTransport.lastEnvelope()
	if env == nil {
		t.Fatal("expected an envelope to have been sent")
	}

	if err := bob.HandleEnvelope(ctx, env, "alice", alice.DeviceID()); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	got, ok, err := bob.FindChatMessageByRemoteID(ctx, sent.RemoteID)
	if err != nil {
		t.Fatalf("FindChatMessageByRemoteID: %v", err)
	}
	if !ok {
		t.Fatal("bob never persisted the inbound message")
	}
	if got.Text != "hello bob" {
		t.Fatalf("Text = %q, want %q", got.Text, "hello bob")
	}
	if got.SenderUser != "alice" {
		t.Fatalf("SenderUser = %q, want alice", got.SenderUser)
	}

	// Redelivering the original handshake envelope trips session replay
	// defense (its CreatedAt no longer postdates the now-recorded
	// LastRekey): the session layer rejects it before the pipeline ever
	// sees a second copy of the message.
	if err := bob.HandleEnvelope(ctx, env, "alice", alice.DeviceID()); !errors.Is(err, cyphertextkit.ErrInvalidHandshake) {
		t.Fatalf("HandleEnvelope (redelivery) = %v, want %v", err, cyphertextkit.ErrInvalidHandshake)
	}
}

func TestSendTextRejectsCurrentUserTarget(t *testing.T) {
	dir := newDirectory()
	alice := openTestMessenger(t, "alice", &fakeTransport{username: "alice", dir: dir})

	_, err := alice.SendText(context.Background(), model.MessageTarget{Kind: model.TargetCurrentUser}, "hi", nil)
	if err == nil {
		t.Fatal("expected an error addressing SendText at TargetCurrentUser")
	}
}

func TestOpenIsIdempotentAcrossRestarts(t *testing.T) {
	dir := newDirectory()
	store := memory.New()
	tr := &fakeTransport{username: "alice", dir: dir}

	first, err := Open(context.Background(), Config{
		Password: "pw", Username: "alice", Store: store, Transport: tr,
	})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	firstDeviceID := first.DeviceID()
	first.Close()

	second, err := Open(context.Background(), Config{
		Password: "pw", Store: store, Transport: tr,
	})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()

	if second.DeviceID() != firstDeviceID {
		t.Fatalf("DeviceID changed across restart: %s != %s", second.DeviceID(), firstDeviceID)
	}
	if second.Username() != "alice" {
		t.Fatalf("Username = %q, want alice", second.Username())
	}
}

func TestOpenWrongPasswordFails(t *testing.T) {
	dir := newDirectory()
	store := memory.New()
	tr := &fakeTransport{username: "alice", dir: dir}

	m, err := Open(context.Background(), Config{
		Password: "correct", Username: "alice", Store: store, Transport: tr,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.Close()

	if _, err := Open(context.Background(), Config{
		Password: "wrong", Store: store, Transport: tr,
	}); err == nil {
		t.Fatal("expected Open with the wrong password to fail")
	}
}
