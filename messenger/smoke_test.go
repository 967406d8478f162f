package messenger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/model"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Scenarios 5 (job queue ordering) and 6 (retry exhaustion) are pure job-
// scheduler properties, independent of envelopes or the pipeline; they are
// exercised directly against *queue.Queue in queue/queue_test.go
// (TestBackgroundYieldsToForeground, TestRetryExhaustionCancelsJob,
// TestOfflineHaltsAndNotifiesOnDelayed). The tests below cover the four
// scenarios that genuinely need the full messenger stack wired together.

// TestSmokeSingleDeviceHandshake covers scenario 1: a freshly registered
// A1 sends "Hello" to a freshly registered B1. B1 persists exactly one
// ChatMessage, and A1 observes its own copy advance to DeliveryReceived
// once the relay (simulated here by the test, standing in for a real
// transport) reports the send went through.
func TestSmokeSingleDeviceHandshake(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	aliceTransport := &fakeTransport{username: "alice", dir: dir}
	bobTransport := &fakeTransport{username: "bob", dir: dir}
	alice := openTestMessenger(t, "alice", aliceTransport)
	bob := openTestMessenger(t, "bob", bobTransport)
	dir.publish("alice", userConfigFor(t, alice))
	dir.publish("bob", userConfigFor(t, bob))

	sent, err := alice.SendText(ctx, model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"}, "Hello", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if sent.DeliveryState != model.DeliveryUndelivered {
		t.Fatalf("initial DeliveryState = %v, want DeliveryUndelivered", sent.DeliveryState)
	}
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}

	env := aliceTransport.lastEnvelope()
	if env == nil {
		t.Fatal("expected an envelope to have been sent")
	}

	// The relay hands the envelope to B1's transport.Delegate.
	bob.MessageReceived(ctx, "alice", alice.DeviceID(), env)

	got, ok, err := bob.FindChatMessageByRemoteID(ctx, sent.RemoteID)
	if err != nil {
		t.Fatalf("FindChatMessageByRemoteID: %v", err)
	}
	if !ok {
		t.Fatal("bob never persisted the inbound message")
	}
	if got.Text != "Hello" || got.DeliveryState != model.DeliveryReceived {
		t.Fatalf("got = %+v, want text=Hello state=Received", got)
	}

	// The relay acks A1's send back to A1's own transport.Delegate, the
	// signal that B1's device accepted delivery.
	alice.MessageSent(ctx, sent.RemoteID)
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing (deliver-state-change): %v", err)
	}

	advanced, ok, err := alice.FindChatMessageByRemoteID(ctx, sent.RemoteID)
	if err != nil {
		t.Fatalf("FindChatMessageByRemoteID: %v", err)
	}
	if !ok {
		t.Fatal("alice lost her own copy of the sent message")
	}
	if advanced.DeliveryState != model.DeliveryReceived {
		t.Fatalf("alice's DeliveryState = %v, want DeliveryReceived", advanced.DeliveryState)
	}
}

// TestSmokeSecondDeviceAnnounce covers scenario 2. There is no single
// addDevice convenience method on Messenger; this test drives the three
// steps such an operation would perform directly: register the new device
// identity locally (A1 is the master device), republish the key bundle
// with both devices listed, and deliver a "_/devices/announce" magic
// message to an existing contact.
func TestSmokeSecondDeviceAnnounce(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	aliceTransport := &fakeTransport{username: "alice", dir: dir}
	bobTransport := &fakeTransport{username: "bob", dir: dir}
	alice := openTestMessenger(t, "alice", aliceTransport)
	bob := openTestMessenger(t, "bob", bobTransport)
	dir.publish("alice", userConfigFor(t, alice))
	dir.publish("bob", userConfigFor(t, bob))

	// Establish alice/bob as contacts so the announce gate has someone to
	// fan out to.
	if _, err := alice.SendText(ctx, model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"}, "hi", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}
	bob.MessageReceived(ctx, "alice", alice.DeviceID(), aliceTransport.lastEnvelope())

	secondDeviceID := uuid.New()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate identity key: %v", err)
	}
	secondUDC := model.UserDeviceConfig{
		DeviceID:       secondDeviceID,
		PublicKey:      alice.local.AgreementPrivateKey, // stand-in curve point, unused by this test
		IdentityKey:    pub,
		IsMasterDevice: false,
		DeviceName:     "alice-laptop",
	}

	created, err := alice.CreateDeviceIdentity(ctx, "alice", secondUDC)
	if err != nil {
		t.Fatalf("CreateDeviceIdentity: %v", err)
	}
	if created.DeviceID != secondDeviceID {
		t.Fatalf("created.DeviceID = %s, want %s", created.DeviceID, secondDeviceID)
	}

	siblings, err := alice.ListDeviceIdentities(ctx, "alice")
	if err != nil {
		t.Fatalf("ListDeviceIdentities: %v", err)
	}
	if len(siblings) != 1 || siblings[0].DeviceID != secondDeviceID {
		t.Fatalf("siblings = %+v, want exactly the second device", siblings)
	}

	republished := userConfigFor(t, alice)
	republished.Devices = append(republished.Devices, secondUDC)
	if err := aliceTransport.PublishKeyBundle(ctx, republished); err != nil {
		t.Fatalf("PublishKeyBundle: %v", err)
	}
	fetched, err := dir.fetch("alice")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(fetched.Devices) != 2 {
		t.Fatalf("published device count = %d, want 2", len(fetched.Devices))
	}

	metadata, err := udcToMetadata(secondUDC)
	if err != nil {
		t.Fatalf("udcToMetadata: %v", err)
	}
	job, err := newSendMagicJob("bob", bob.DeviceID(), "_/devices/announce", metadata)
	if err != nil {
		t.Fatalf("newSendMagicJob: %v", err)
	}
	if err := alice.queue.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue announce: %v", err)
	}
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}

	bob.MessageReceived(ctx, "alice", alice.DeviceID(), aliceTransport.lastEnvelope())

	bobsView, ok, err := bob.GetDeviceIdentityByDeviceID(ctx, "alice", secondDeviceID)
	if err != nil {
		t.Fatalf("GetDeviceIdentityByDeviceID: %v", err)
	}
	if !ok {
		t.Fatal("bob never created a DeviceIdentity for alice's second device")
	}
	if bobsView.DeviceID != secondDeviceID {
		t.Fatalf("bobsView.DeviceID = %s, want %s", bobsView.DeviceID, secondDeviceID)
	}
}

// TestSmokeRekeyRecovery covers scenario 3. B1's stored ratchet state for
// A1 is corrupted, so the next inbound message from A1 fails to decrypt;
// B1 clears its session, enqueues a "_/ignore" and a resend request. The
// "_/ignore" handler does not yet drive an automatic self-rekey on A1's
// side (that wiring is left to a later pass), so this test clears A1's own
// ratchet state manually to stand in for it before re-sending.
func TestSmokeRekeyRecovery(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	aliceTransport := &fakeTransport{username: "alice", dir: dir}
	bobTransport := &fakeTransport{username: "bob", dir: dir}
	alice := openTestMessenger(t, "alice", aliceTransport)
	bob := openTestMessenger(t, "bob", bobTransport)
	dir.publish("alice", userConfigFor(t, alice))
	dir.publish("bob", userConfigFor(t, bob))

	target := model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"}
	if _, err := alice.SendText(ctx, target, "ping0", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}
	bob.MessageReceived(ctx, "alice", alice.DeviceID(), aliceTransport.lastEnvelope())

	// Corrupt B1's session state for A1.
	aliceAsSeenByBob, ok, err := bob.GetDeviceIdentityByDeviceID(ctx, "alice", alice.DeviceID())
	if err != nil || !ok {
		t.Fatalf("GetDeviceIdentityByDeviceID: ok=%v err=%v", ok, err)
	}
	aliceAsSeenByBob.RatchetState = []byte("not a valid ratchet state")
	if err := bob.SaveDeviceIdentity(ctx, aliceAsSeenByBob); err != nil {
		t.Fatalf("SaveDeviceIdentity: %v", err)
	}

	if _, err := alice.SendText(ctx, target, "ping1", nil); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}

	env := aliceTransport.lastEnvelope()
	bob.MessageReceived(ctx, "alice", alice.DeviceID(), env)

	recovered, ok, err := bob.GetDeviceIdentityByDeviceID(ctx, "alice", alice.DeviceID())
	if err != nil || !ok {
		t.Fatalf("GetDeviceIdentityByDeviceID after recovery: ok=%v err=%v", ok, err)
	}
	if recovered.RatchetState != nil {
		t.Fatal("bob's ratchet state for alice should have been cleared by rekey recovery")
	}

	if _, err := bob.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing (bob's ignore/resend jobs): %v", err)
	}

	// Stand in for the "_/ignore" self-rekey alice would perform on her
	// own side once that wiring lands: clear her view of bob so her next
	// send performs a fresh handshake.
	aliceToBob, ok, err := alice.GetDeviceIdentityByDeviceID(ctx, "bob", bob.DeviceID())
	if err != nil || !ok {
		t.Fatalf("GetDeviceIdentityByDeviceID: ok=%v err=%v", ok, err)
	}
	aliceToBob.RatchetState = nil
	aliceToBob.LastRekey = nil
	if err := alice.SaveDeviceIdentity(ctx, aliceToBob); err != nil {
		t.Fatalf("SaveDeviceIdentity: %v", err)
	}

	sent, err := alice.SendText(ctx, target, "ping2", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if _, err := alice.Queue().AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}

	if err := bob.HandleEnvelope(ctx, aliceTransport.lastEnvelope(), "alice", alice.DeviceID()); err != nil {
		t.Fatalf("HandleEnvelope after rekey: %v", err)
	}
	got, ok, err := bob.FindChatMessageByRemoteID(ctx, sent.RemoteID)
	if err != nil {
		t.Fatalf("FindChatMessageByRemoteID: %v", err)
	}
	if !ok || got.Text != "ping2" {
		t.Fatalf("got = %+v, ok=%v, want text=ping2", got, ok)
	}
}

// TestSmokeMultiRecipientFanOut covers scenario 4: one envelope addressed
// to three devices across two users, each of which decrypts independently.
func TestSmokeMultiRecipientFanOut(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()

	aliceTransport := &fakeTransport{username: "alice", dir: dir}
	bobTransport := &fakeTransport{username: "bob", dir: dir}
	carolTransport := &fakeTransport{username: "carol", dir: dir}
	alice := openTestMessenger(t, "alice", aliceTransport)
	bob := openTestMessenger(t, "bob", bobTransport)
	carol := openTestMessenger(t, "carol", carolTransport)
	dir.publish("alice", userConfigFor(t, alice))
	dir.publish("bob", userConfigFor(t, bob))
	dir.publish("carol", userConfigFor(t, carol))

	group := model.MessageTarget{Kind: model.TargetGroupChat, GroupID: "group-1"}
	conv, err := alice.OpenGroupConversation(ctx, "group-1")
	if err != nil {
		t.Fatalf("OpenGroupConversation: %v", err)
	}
	conv.Members = memberSet("alice", "bob", "carol")
	if err := alice.saveConversation(ctx, conv); err != nil {
		t.Fatalf("saveConversation: %v", err)
	}

	sent, err := alice.SendText(ctx, group, "Hi", nil)
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
	if len(env.Keys) != 2 {
		t.Fatalf("len(env.Keys) = %d, want 2 (bob, carol)", len(env.Keys))
	}

	bob.MessageReceived(ctx, "alice", alice.DeviceID(), env)
	got, ok, err := bob.FindChatMessageByRemoteID(ctx, sent.RemoteID)
	if err != nil || !ok || got.Text != "Hi" {
		t.Fatalf("bob: got=%+v ok=%v err=%v", got, ok, err)
	}

	carol.MessageReceived(ctx, "alice", alice.DeviceID(), env)
	gotCarol, ok, err := carol.FindChatMessageByRemoteID(ctx, sent.RemoteID)
	if err != nil || !ok || gotCarol.Text != "Hi" {
		t.Fatalf("carol: got=%+v ok=%v err=%v", gotCarol, ok, err)
	}
}

func udcToMetadata(udc model.UserDeviceConfig) (map[string]any, error) {
	b, err := bson.Marshal(udc)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
