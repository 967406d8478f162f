package hooks

import (
	"context"
	"testing"

	"github.com/orlandos-nl/cyphertextkit/model"
)

func TestNilHooksUseDefaults(t *testing.T) {
	var h *Hooks
	if d := h.ReceiveDecision(context.Background(), nil, nil); d != Save {
		t.Fatalf("ReceiveDecision on nil Hooks = %v, want Save", d)
	}
	if d := h.SendPolicy(context.Background(), model.MessageTarget{}, nil); d != SaveAndSend {
		t.Fatalf("SendPolicy on nil Hooks = %v, want SaveAndSend", d)
	}
	// None of these must panic.
	h.NotifyMessageChange(context.Background(), nil)
	h.NotifyRekey(context.Background(), nil)
	if meta := h.ContactMetadata(context.Background(), "alice"); meta != nil {
		t.Fatalf("ContactMetadata on nil Hooks = %v, want nil", meta)
	}
}

func TestUnsetFieldsUseDefaults(t *testing.T) {
	h := &Hooks{}
	if d := h.ReceiveDecision(context.Background(), nil, nil); d != Save {
		t.Fatalf("ReceiveDecision = %v, want Save", d)
	}
	if d := h.SendPolicy(context.Background(), model.MessageTarget{}, nil); d != SaveAndSend {
		t.Fatalf("SendPolicy = %v, want SaveAndSend", d)
	}
}

func TestSetFieldsAreInvoked(t *testing.T) {
	var rekeyed *model.DeviceIdentity
	var changedUsername string

	h := &Hooks{
		OnReceiveMessage: func(context.Context, *model.Conversation, *model.ChatMessage) MessageDecision {
			return Ignore
		},
		OnRekey: func(_ context.Context, device *model.DeviceIdentity) {
			rekeyed = device
		},
		OnContactIdentityChange: func(_ context.Context, username string) {
			changedUsername = username
		},
	}

	if d := h.ReceiveDecision(context.Background(), nil, nil); d != Ignore {
		t.Fatalf("ReceiveDecision = %v, want Ignore", d)
	}

	device := &model.DeviceIdentity{Username: "bob"}
	h.NotifyRekey(context.Background(), device)
	if rekeyed != device {
		t.Fatal("OnRekey was not invoked with the expected device")
	}

	h.NotifyContactIdentityChange(context.Background(), "carol")
	if changedUsername != "carol" {
		t.Fatalf("changedUsername = %q, want carol", changedUsername)
	}
}
