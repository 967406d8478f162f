package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orlandos-nl/cyphertextkit/model"
)

type fakeStore struct {
	mu            sync.Mutex
	byRemoteID    map[string]*model.ChatMessage
	conversations map[uuid.UUID]*model.Conversation
	internalChat  *model.Conversation
}

func newFakeStore() *fakeStore {
	internal := &model.Conversation{ID: uuid.New()}
	return &fakeStore{
		byRemoteID:    make(map[string]*model.ChatMessage),
		conversations: map[uuid.UUID]*model.Conversation{internal.ID: internal},
		internalChat:  internal,
	}
}

func (s *fakeStore) SaveChatMessage(_ context.Context, msg *model.ChatMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byRemoteID[msg.RemoteID]; exists {
		return true, nil
	}
	s.byRemoteID[msg.RemoteID] = msg
	return false, nil
}

func (s *fakeStore) FindChatMessageByRemoteID(_ context.Context, remoteID string) (*model.ChatMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byRemoteID[remoteID]
	return m, ok, nil
}

func (s *fakeStore) OpenPrivateConversation(_ context.Context, self, other string) (*model.Conversation, error) {
	conv := &model.Conversation{ID: uuid.New(), Members: map[string]struct{}{self: {}, other: {}}}
	return conv, nil
}

func (s *fakeStore) OpenGroupConversation(_ context.Context, groupID string) (*model.Conversation, error) {
	return &model.Conversation{ID: uuid.New()}, nil
}

func (s *fakeStore) InternalChatConversation(context.Context) (*model.Conversation, error) {
	return s.internalChat, nil
}

type fakeDevices struct {
	created     []model.UserDeviceConfig
	renamed     bool
	modeUpdated *model.RegistryMode
}

func (d *fakeDevices) CreateDeviceIdentity(_ context.Context, forUsername string, udc model.UserDeviceConfig) (*model.DeviceIdentity, error) {
	d.created = append(d.created, udc)
	return &model.DeviceIdentity{ID: uuid.New()}, nil
}

func (d *fakeDevices) RenameDevice(context.Context, string, uuid.UUID, string) error {
	d.renamed = true
	return nil
}

func (d *fakeDevices) SetOwnRegistryMode(_ context.Context, mode model.RegistryMode) error {
	d.modeUpdated = &mode
	return nil
}

type fakeHooks struct {
	decision Decision
}

func (h *fakeHooks) OnReceiveMessage(context.Context, *model.Conversation, *model.ChatMessage) Decision {
	return h.decision
}

type fakeReceipts struct {
	received     int
	resendMsg    int
	resendNotice int
}

func (r *fakeReceipts) EnqueueReceivedReceipt(context.Context, string, uuid.UUID, string) error {
	r.received++
	return nil
}
func (r *fakeReceipts) EnqueueResendRequest(context.Context, string, uuid.UUID, string) error {
	r.resendNotice++
	return nil
}
func (r *fakeReceipts) EnqueueResendMessage(context.Context, string, uuid.UUID, string) error {
	r.resendMsg++
	return nil
}

type fakeP2P struct {
	handled int
}

func (p *fakeP2P) HandleSideChannel(context.Context, string, SingleMessage, map[string]any) error {
	p.handled++
	return nil
}

func newTestPipeline() (*Pipeline, *fakeStore, *fakeDevices, *fakeHooks, *fakeReceipts, *fakeP2P) {
	store := newFakeStore()
	devices := &fakeDevices{}
	hooks := &fakeHooks{decision: DecisionSave}
	receipts := &fakeReceipts{}
	p2p := &fakeP2P{}
	p := New("self", uuid.New(), store, devices, hooks, receipts, p2p)
	return p, store, devices, hooks, receipts, p2p
}

func TestDispatchOtherUserPersistsAndEnqueuesReceipt(t *testing.T) {
	p, store, _, _, receipts, _ := newTestPipeline()

	msg := SingleMessage{
		Type:           model.MessageTypeText,
		Text:           "Hello",
		RemoteID:       "r1",
		SenderUsername: "bob",
		SenderDeviceID: uuid.New(),
		Target:         model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok, _ := store.FindChatMessageByRemoteID(context.Background(), "r1"); !ok {
		t.Fatal("message not persisted")
	}
	if receipts.received != 1 {
		t.Fatalf("received = %d, want 1", receipts.received)
	}
}

func TestDispatchDuplicateRemoteIDIsNoOp(t *testing.T) {
	p, _, _, _, receipts, _ := newTestPipeline()

	msg := SingleMessage{
		Type:           model.MessageTypeText,
		Text:           "Hello",
		RemoteID:       "dup",
		SenderUsername: "bob",
		Target:         model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch (1st): %v", err)
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch (2nd, duplicate): %v", err)
	}
	if receipts.received != 2 {
		t.Fatalf("received = %d, want 2 (receipt still enqueued both times)", receipts.received)
	}
}

func TestDispatchHooksIgnoreDropsMessage(t *testing.T) {
	p, store, _, hooks, _, _ := newTestPipeline()
	hooks.decision = DecisionIgnore

	msg := SingleMessage{
		Type:           model.MessageTypeText,
		Text:           "Hello",
		RemoteID:       "ignored",
		SenderUsername: "bob",
		Target:         model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok, _ := store.FindChatMessageByRemoteID(context.Background(), "ignored"); ok {
		t.Fatal("message was persisted despite DecisionIgnore")
	}
}

func TestMagicDevicesAnnounceCreatesSibling(t *testing.T) {
	p, _, devices, _, _, _ := newTestPipeline()
	other := uuid.New()

	msg := SingleMessage{
		Type:           model.MessageTypeMagic,
		Subtype:        "_/devices/announce",
		SenderUsername: "self",
		SenderIsMaster: true,
		Metadata: map[string]any{
			"deviceId":  other,
			"publicKey": []byte("pub"),
		},
		Target: model.MessageTarget{Kind: model.TargetCurrentUser},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(devices.created) != 1 {
		t.Fatalf("created = %d, want 1", len(devices.created))
	}
}

func TestMagicIgnoreIsNoOp(t *testing.T) {
	p, _, _, _, _, _ := newTestPipeline()
	msg := SingleMessage{
		Type:           model.MessageTypeMagic,
		Subtype:        "_/ignore",
		SenderUsername: "self",
		Target:         model.MessageTarget{Kind: model.TargetCurrentUser},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestMagicP2PDroppedWhenStale(t *testing.T) {
	p, _, _, _, _, p2p := newTestPipeline()
	stale := time.Now().Add(-time.Minute)

	msg := SingleMessage{
		Type:           model.MessageTypeMagic,
		Subtype:        "_/p2p/0/webrtc",
		SenderUsername: "bob",
		SentDate:       &stale,
		Target:         model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if p2p.handled != 0 {
		t.Fatalf("handled = %d, want 0 for a stale p2p message", p2p.handled)
	}
}

func TestMagicP2PDeliveredWhenFresh(t *testing.T) {
	p, _, _, _, _, p2p := newTestPipeline()
	fresh := time.Now()

	msg := SingleMessage{
		Type:           model.MessageTypeMagic,
		Subtype:        "_/p2p/0/webrtc",
		SenderUsername: "bob",
		SentDate:       &fresh,
		Target:         model.MessageTarget{Kind: model.TargetOtherUser, Username: "bob"},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if p2p.handled != 1 {
		t.Fatalf("handled = %d, want 1 for a fresh p2p message", p2p.handled)
	}
}

func TestMagicUnknownSubtypeDropped(t *testing.T) {
	p, _, _, _, _, _ := newTestPipeline()
	msg := SingleMessage{
		Type:           model.MessageTypeMagic,
		Subtype:        "_/something/unknown",
		SenderUsername: "self",
		Target:         model.MessageTarget{Kind: model.TargetCurrentUser},
	}
	if err := p.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestDispatchCurrentUserRejectsForeignSender(t *testing.T) {
	p, _, _, _, _, _ := newTestPipeline()
	msg := SingleMessage{
		Type:           model.MessageTypeText,
		SenderUsername: "stranger",
		Target:         model.MessageTarget{Kind: model.TargetCurrentUser},
	}
	if err := p.Dispatch(context.Background(), msg); err == nil {
		t.Fatal("Dispatch accepted a currentUser message from a foreign sender")
	}
}
