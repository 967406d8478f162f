package messenger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/orlandos-nl/cyphertextkit/envelope"
	"github.com/orlandos-nl/cyphertextkit/model"
	"github.com/orlandos-nl/cyphertextkit/pipeline"
	"github.com/orlandos-nl/cyphertextkit/queue"
	"github.com/orlandos-nl/cyphertextkit/transport"
)

const (
	taskKeySendChat           = "send_chat"
	taskKeySendMagic          = "send_magic"
	taskKeyReceivedReceipt    = "received_receipt"
	taskKeyResendMessage      = "resend_message"
	taskKeyDeliverStateChange = "deliver_state_change"
)

// registerTasks binds every durable task kind's decoder, so a process
// restart can redecode pending jobs from their persisted BSON payload.
func (m *Messenger) registerTasks() error {
	if err := m.registry.Register(taskKeySendChat, func(payload []byte) (queue.Task, error) {
		var p sendChatPayload
		if err := bson.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &sendChatTask{m: m, payload: p}, nil
	}); err != nil {
		return err
	}
	if err := m.registry.Register(taskKeySendMagic, func(payload []byte) (queue.Task, error) {
		var p sendMagicPayload
		if err := bson.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &sendMagicTask{m: m, payload: p}, nil
	}); err != nil {
		return err
	}
	if err := m.registry.Register(taskKeyReceivedReceipt, func(payload []byte) (queue.Task, error) {
		var p receiptPayload
		if err := bson.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &receivedReceiptTask{m: m, payload: p}, nil
	}); err != nil {
		return err
	}
	if err := m.registry.Register(taskKeyResendMessage, func(payload []byte) (queue.Task, error) {
		var p receiptPayload
		if err := bson.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &resendMessageTask{m: m, payload: p}, nil
	}); err != nil {
		return err
	}
	return m.registry.Register(taskKeyDeliverStateChange, func(payload []byte) (queue.Task, error) {
		var p deliverStatePayload
		if err := bson.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &deliverStateChangeTask{m: m, payload: p}, nil
	})
}

func newJob(taskKey string, payload any, background bool) (*model.Job, error) {
	b, err := bson.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &model.Job{
		ID:               uuid.New(),
		TaskKey:          taskKey,
		Payload:          b,
		ScheduledAt:      time.Now(),
		IsBackgroundTask: background,
	}, nil
}

// --- send_chat: an application-authored message, fanned out to every
// addressed device via a multi-recipient envelope. ---

type sendChatPayload struct {
	Target model.MessageTarget `bson:"target"`
	Body   wireMessage         `bson:"body"`
}

func newSendChatJob(target model.MessageTarget, body wireMessage, background bool) (*model.Job, error) {
	return newJob(taskKeySendChat, sendChatPayload{Target: target, Body: body}, background)
}

type sendChatTask struct {
	m       *Messenger
	payload sendChatPayload
}

func (t *sendChatTask) TaskKey() string             { return taskKeySendChat }
func (t *sendChatTask) RequiresConnectivity() bool   { return true }
func (t *sendChatTask) IsBackgroundTask() bool       { return false }
func (t *sendChatTask) OnDelayed(ctx context.Context) {}

func (t *sendChatTask) Run(ctx context.Context) (queue.Result, error) {
	recipients, err := t.m.resolveRecipients(ctx, t.payload.Target)
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if len(recipients) == 0 {
		return queue.Success(), nil
	}

	env, err := envelope.Build(ctx, t.m.session, t.m.signingKey, t.payload.Body, recipients)
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}

	messageID := t.payload.Body.RemoteID
	if t.m.transport.SupportsMultiRecipient() {
		if err := t.m.transport.SendMultiRecipientMessage(ctx, env, transportPushFor(t.payload.Body), messageID); err != nil {
			return retryOrOffline(err)
		}
		return queue.Success(), nil
	}

	for _, key := range env.Keys {
		deviceID, err := uuid.Parse(key.DeviceID)
		if err != nil {
			continue
		}
		if err := t.m.transport.SendMessage(ctx, &key.Message, key.Username, deviceID, transportPushFor(t.payload.Body), messageID); err != nil {
			return retryOrOffline(err)
		}
	}
	return queue.Success(), nil
}

func transportPushFor(body wireMessage) transport.PushType {
	if body.Type == model.MessageTypeMagic {
		return transport.PushSilent
	}
	return transport.PushNormal
}

// --- send_magic: a point-to-point control message addressed at one
// specific device, e.g. "_/ignore" or a resend request. ---

type sendMagicPayload struct {
	ToUsername string         `bson:"toUsername"`
	ToDeviceID uuid.UUID      `bson:"toDeviceId"`
	Subtype    string         `bson:"subtype"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
}

func newSendMagicJob(toUsername string, toDeviceID uuid.UUID, subtype string, metadata map[string]any) (*model.Job, error) {
	return newJob(taskKeySendMagic, sendMagicPayload{ToUsername: toUsername, ToDeviceID: toDeviceID, Subtype: subtype, Metadata: metadata}, true)
}

type sendMagicTask struct {
	m       *Messenger
	payload sendMagicPayload
}

func (t *sendMagicTask) TaskKey() string             { return taskKeySendMagic }
func (t *sendMagicTask) RequiresConnectivity() bool   { return true }
func (t *sendMagicTask) IsBackgroundTask() bool       { return true }
func (t *sendMagicTask) OnDelayed(ctx context.Context) {}

func (t *sendMagicTask) Run(ctx context.Context) (queue.Result, error) {
	device, ok, err := t.m.GetDeviceIdentityByDeviceID(ctx, t.payload.ToUsername, t.payload.ToDeviceID)
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if !ok {
		return queue.Success(), nil
	}

	body := wireMessage{
		Type:     model.MessageTypeMagic,
		Subtype:  t.payload.Subtype,
		Metadata: t.payload.Metadata,
		SentDate: time.Now(),
	}
	env, err := envelope.Build(ctx, t.m.session, t.m.signingKey, body, []envelope.Recipient{{Device: device}})
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if len(env.Keys) == 0 {
		return queue.FailNever(), nil
	}
	if t.m.transport.SupportsMultiRecipient() {
		if err := t.m.transport.SendMultiRecipientMessage(ctx, env, transport.PushSilent, uuid.NewString()); err != nil {
			return retryOrOffline(err)
		}
		return queue.Success(), nil
	}
	if err := t.m.transport.SendMessage(ctx, &env.Keys[0].Message, t.payload.ToUsername, t.payload.ToDeviceID, transport.PushSilent, uuid.NewString()); err != nil {
		return retryOrOffline(err)
	}
	return queue.Success(), nil
}

// --- received_receipt: a plain transport RPC, not ratchet-wrapped. ---

type receiptPayload struct {
	ToUsername string    `bson:"toUsername"`
	ToDeviceID uuid.UUID `bson:"toDeviceId"`
	RemoteID   string    `bson:"remoteId"`
}

func newReceiptJob(taskKey, toUsername string, toDeviceID uuid.UUID, remoteID string) (*model.Job, error) {
	return newJob(taskKey, receiptPayload{ToUsername: toUsername, ToDeviceID: toDeviceID, RemoteID: remoteID}, true)
}

type receivedReceiptTask struct {
	m       *Messenger
	payload receiptPayload
}

func (t *receivedReceiptTask) TaskKey() string             { return taskKeyReceivedReceipt }
func (t *receivedReceiptTask) RequiresConnectivity() bool   { return true }
func (t *receivedReceiptTask) IsBackgroundTask() bool       { return true }
func (t *receivedReceiptTask) OnDelayed(ctx context.Context) {}

func (t *receivedReceiptTask) Run(ctx context.Context) (queue.Result, error) {
	if err := t.m.transport.SendMessageReceivedReceipt(ctx, t.payload.ToUsername, t.payload.ToDeviceID, t.payload.RemoteID); err != nil {
		return retryOrOffline(err)
	}
	return queue.Success(), nil
}

// --- resend_message: re-sends a locally authored message's content to
// one requesting device, after the pipeline authorized the request. ---

type resendMessageTask struct {
	m       *Messenger
	payload receiptPayload
}

func (t *resendMessageTask) TaskKey() string             { return taskKeyResendMessage }
func (t *resendMessageTask) RequiresConnectivity() bool   { return true }
func (t *resendMessageTask) IsBackgroundTask() bool       { return true }
func (t *resendMessageTask) OnDelayed(ctx context.Context) {}

func (t *resendMessageTask) Run(ctx context.Context) (queue.Result, error) {
	original, ok, err := t.m.FindChatMessageByRemoteID(ctx, t.payload.RemoteID)
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if !ok {
		return queue.Success(), nil
	}

	device, ok, err := t.m.GetDeviceIdentityByDeviceID(ctx, t.payload.ToUsername, t.payload.ToDeviceID)
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if !ok {
		return queue.Success(), nil
	}

	body := wireMessage{
		Type:     original.MessageType,
		Subtype:  original.MessageSubtype,
		Text:     original.Text,
		Metadata: original.Metadata,
		SentDate: original.SendDate,
		Order:    original.Order,
		RemoteID: original.RemoteID,
	}
	env, err := envelope.Build(ctx, t.m.session, t.m.signingKey, body, []envelope.Recipient{{Device: device}})
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if len(env.Keys) == 0 {
		return queue.FailNever(), nil
	}
	if t.m.transport.SupportsMultiRecipient() {
		if err := t.m.transport.SendMultiRecipientMessage(ctx, env, transport.PushNormal, uuid.NewString()); err != nil {
			return retryOrOffline(err)
		}
		return queue.Success(), nil
	}
	if err := t.m.transport.SendMessage(ctx, &env.Keys[0].Message, t.payload.ToUsername, t.payload.ToDeviceID, transport.PushNormal, uuid.NewString()); err != nil {
		return retryOrOffline(err)
	}
	return queue.Success(), nil
}

// --- deliver_state_change: advances a locally-authored message's
// DeliveryState in response to a transport delegate event (sent, received,
// displayed), running the transition through the same state machine the
// pipeline uses for inbound messages. ---

type deliverStatePayload struct {
	RemoteID     string              `bson:"remoteId"`
	NewState     model.DeliveryState `bson:"newState"`
	FromUsername string              `bson:"fromUsername,omitempty"`
}

func newDeliverStateChangeJob(remoteID string, newState model.DeliveryState, fromUsername string) (*model.Job, error) {
	return newJob(taskKeyDeliverStateChange, deliverStatePayload{RemoteID: remoteID, NewState: newState, FromUsername: fromUsername}, true)
}

type deliverStateChangeTask struct {
	m       *Messenger
	payload deliverStatePayload
}

func (t *deliverStateChangeTask) TaskKey() string             { return taskKeyDeliverStateChange }
func (t *deliverStateChangeTask) RequiresConnectivity() bool   { return false }
func (t *deliverStateChangeTask) IsBackgroundTask() bool       { return true }
func (t *deliverStateChangeTask) OnDelayed(ctx context.Context) {}

func (t *deliverStateChangeTask) Run(ctx context.Context) (queue.Result, error) {
	msg, ok, err := t.m.FindChatMessageByRemoteID(ctx, t.payload.RemoteID)
	if err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	if !ok {
		return queue.Success(), nil
	}

	outcome, err := pipeline.Transition(msg.DeliveryState, t.payload.NewState)
	if err != nil {
		return queue.FailNever(), nil
	}
	if outcome == pipeline.TransitionNotModified {
		return queue.Success(), nil
	}

	msg.DeliveryState = t.payload.NewState
	if t.payload.FromUsername != "" {
		if msg.PerUserDelivery == nil {
			msg.PerUserDelivery = map[string]model.DeliveryState{}
		}
		msg.PerUserDelivery[t.payload.FromUsername] = t.payload.NewState
	}
	if err := t.m.updateChatMessage(ctx, msg); err != nil {
		return queue.Retry(5*time.Second, 10), err
	}
	return queue.Success(), nil
}

func retryOrOffline(err error) (queue.Result, error) {
	return queue.Retry(30*time.Second, 0), err
}
