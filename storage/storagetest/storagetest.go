// Package storagetest provides a conformance test suite shared across
// every storage.Store backend: a backend that passes TestStore satisfies
// the contract each of keystore, identity, queue, and pipeline rely on.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

// TestStore runs the full conformance suite against a backend produced
// by newStore. newStore must return a freshly Init-able store each call.
func TestStore(t *testing.T, newStore func() storage.Store) {
	t.Run("DeviceConfigStore", func(t *testing.T) { testDeviceConfigStore(t, newStore) })
	t.Run("ContactStore", func(t *testing.T) { testContactStore(t, newStore) })
	t.Run("ConversationStore", func(t *testing.T) { testConversationStore(t, newStore) })
	t.Run("DeviceIdentityStore", func(t *testing.T) { testDeviceIdentityStore(t, newStore) })
	t.Run("ChatMessageStore", func(t *testing.T) { testChatMessageStore(t, newStore) })
	t.Run("JobStore", func(t *testing.T) { testJobStore(t, newStore) })
}

func initStore(t *testing.T, newStore func() storage.Store) storage.Store {
	t.Helper()
	s := newStore()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDeviceConfigStore(t *testing.T, newStore func() storage.Store) {
	s := initStore(t, newStore)
	dcs := s.DeviceConfigStore()
	ctx := context.Background()

	if _, ok, err := dcs.LoadDeviceSalt(ctx); err != nil || ok {
		t.Fatalf("LoadDeviceSalt before save: ok=%v err=%v", ok, err)
	}
	if err := dcs.SaveDeviceSalt(ctx, []byte("salt")); err != nil {
		t.Fatalf("SaveDeviceSalt: %v", err)
	}
	salt, ok, err := dcs.LoadDeviceSalt(ctx)
	if err != nil || !ok || string(salt) != "salt" {
		t.Fatalf("LoadDeviceSalt after save: salt=%q ok=%v err=%v", salt, ok, err)
	}

	if err := dcs.SaveDeviceConfig(ctx, []byte("sealed-config")); err != nil {
		t.Fatalf("SaveDeviceConfig: %v", err)
	}
	cfg, ok, err := dcs.LoadDeviceConfig(ctx)
	if err != nil || !ok || string(cfg) != "sealed-config" {
		t.Fatalf("LoadDeviceConfig after save: cfg=%q ok=%v err=%v", cfg, ok, err)
	}
}

func testContactStore(t *testing.T, newStore func() storage.Store) {
	s := initStore(t, newStore)
	cs := s.ContactStore()
	ctx := context.Background()

	id := uuid.New()
	rec := storage.ContactRecord{Record: storage.Record{ID: id, Props: []byte("sealed")}, Username: "bob"}
	if err := cs.PutContact(ctx, rec); err != nil {
		t.Fatalf("PutContact: %v", err)
	}

	got, ok, err := cs.GetContact(ctx, id)
	if err != nil || !ok || string(got.Props) != "sealed" {
		t.Fatalf("GetContact: got=%+v ok=%v err=%v", got, ok, err)
	}

	got, ok, err = cs.GetContactByUsername(ctx, "bob")
	if err != nil || !ok || got.ID != id {
		t.Fatalf("GetContactByUsername: got=%+v ok=%v err=%v", got, ok, err)
	}

	if _, ok, err := cs.GetContactByUsername(ctx, "nobody"); err != nil || ok {
		t.Fatalf("GetContactByUsername miss: ok=%v err=%v", ok, err)
	}

	if err := cs.DeleteContact(ctx, id); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if _, ok, err := cs.GetContact(ctx, id); err != nil || ok {
		t.Fatalf("GetContact after delete: ok=%v err=%v", ok, err)
	}
}

func testConversationStore(t *testing.T, newStore func() storage.Store) {
	s := initStore(t, newStore)
	convs := s.ConversationStore()
	ctx := context.Background()

	id := uuid.New()
	rec := storage.ConversationRecord{Record: storage.Record{ID: id, Props: []byte("sealed-conv")}}
	if err := convs.PutConversation(ctx, rec); err != nil {
		t.Fatalf("PutConversation: %v", err)
	}
	got, ok, err := convs.GetConversation(ctx, id)
	if err != nil || !ok || string(got.Props) != "sealed-conv" {
		t.Fatalf("GetConversation: got=%+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, err := convs.GetConversation(ctx, uuid.New()); err != nil || ok {
		t.Fatalf("GetConversation miss: ok=%v err=%v", ok, err)
	}
}

func testDeviceIdentityStore(t *testing.T, newStore func() storage.Store) {
	s := initStore(t, newStore)
	dis := s.DeviceIdentityStore()
	ctx := context.Background()

	deviceID := uuid.New()
	id := uuid.New()
	rec := storage.DeviceIdentityRecord{
		Record:   storage.Record{ID: id, Props: []byte("sealed-device")},
		Username: "alice",
		DeviceID: deviceID,
	}
	if err := dis.PutDeviceIdentity(ctx, rec); err != nil {
		t.Fatalf("PutDeviceIdentity: %v", err)
	}

	got, ok, err := dis.GetDeviceIdentityByDeviceID(ctx, "alice", deviceID)
	if err != nil || !ok || got.ID != id {
		t.Fatalf("GetDeviceIdentityByDeviceID: got=%+v ok=%v err=%v", got, ok, err)
	}

	list, err := dis.ListDeviceIdentitiesByUsername(ctx, "alice")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDeviceIdentitiesByUsername: list=%v err=%v", list, err)
	}
}

func testChatMessageStore(t *testing.T, newStore func() storage.Store) {
	s := initStore(t, newStore)
	cms := s.ChatMessageStore()
	ctx := context.Background()

	convID := uuid.New()
	id := uuid.New()
	rec := storage.ChatMessageRecord{
		Record:         storage.Record{ID: id, Props: []byte("sealed-msg")},
		ConversationID: convID,
		RemoteID:       "remote-1",
		Order:          1,
		SenderID:       42,
	}
	if err := cms.PutChatMessage(ctx, rec); err != nil {
		t.Fatalf("PutChatMessage: %v", err)
	}

	got, ok, err := cms.GetChatMessageByRemoteID(ctx, "remote-1")
	if err != nil || !ok || got.ID != id {
		t.Fatalf("GetChatMessageByRemoteID: got=%+v ok=%v err=%v", got, ok, err)
	}

	list, err := cms.ListChatMessagesByConversation(ctx, convID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListChatMessagesByConversation: list=%v err=%v", list, err)
	}

	if _, ok, err := cms.GetChatMessageByRemoteID(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetChatMessageByRemoteID miss: ok=%v err=%v", ok, err)
	}
}

func testJobStore(t *testing.T, newStore func() storage.Store) {
	s := initStore(t, newStore)
	js := s.JobStore()
	ctx := context.Background()

	id := uuid.New()
	rec := storage.JobRecord{
		Record:      storage.Record{ID: id, Props: []byte("sealed-job")},
		ScheduledAt: time.Now(),
	}
	if err := js.PutJob(ctx, rec); err != nil {
		t.Fatalf("PutJob: %v", err)
	}

	list, err := js.ListJobs(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListJobs: list=%v err=%v", list, err)
	}

	if err := js.DeleteJob(ctx, id); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	list, err = js.ListJobs(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("ListJobs after delete: list=%v err=%v", list, err)
	}
}
