package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	dbchatmsg "chat-backend/internal/storage/database/chatmsg"
)

// memPublisher 記錄發布順序的記憶體發布器
type memPublisher struct {
	channels []string
	payloads [][]byte
	err      error
}

func (m *memPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.channels = append(m.channels, channel)
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *memPublisher) lastEvent(t *testing.T) *Event {
	t.Helper()
	if len(m.payloads) == 0 {
		t.Fatal("no events published")
	}
	var event Event
	if err := json.Unmarshal(m.payloads[len(m.payloads)-1], &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return &event
}

func TestMessageCreated(t *testing.T) {
	pub := &memPublisher{}
	d := NewDispatcher(pub)

	message := dbchatmsg.NewMessage()
	message.ConversationID = "conv_1"
	message.SenderID = "alice"
	message.Content = "hi"

	d.MessageCreated(context.Background(), &message)

	if len(pub.channels) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.channels))
	}
	if pub.channels[0] != ChannelFor("conv_1") {
		t.Errorf("expected conversation channel, got %s", pub.channels[0])
	}

	event := pub.lastEvent(t)
	if event.Type != EventMessageCreated {
		t.Errorf("expected %s, got %s", EventMessageCreated, event.Type)
	}
	if event.MessageID != message.ID || event.UserID != "alice" {
		t.Errorf("event identifiers mismatch: %+v", event)
	}
	if event.Message == nil || event.Message.Content != "hi" {
		t.Error("expected full message payload in event")
	}
	if event.Timestamp == 0 {
		t.Error("expected timestamp to be set")
	}
}

func TestStatusChanged(t *testing.T) {
	pub := &memPublisher{}
	d := NewDispatcher(pub)

	d.StatusChanged(context.Background(), "conv_1", "msg_1", "bob", dbchatmsg.StatusRead)

	event := pub.lastEvent(t)
	if event.Type != EventStatusChanged || event.Status != dbchatmsg.StatusRead {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestPinChanged(t *testing.T) {
	pub := &memPublisher{}
	d := NewDispatcher(pub)
	ctx := context.Background()

	d.PinChanged(ctx, "conv_1", "msg_1", "alice", true)
	event := pub.lastEvent(t)
	if event.Type != EventPinChanged || event.Pinned == nil || !*event.Pinned {
		t.Errorf("expected pinned event, got %+v", event)
	}

	d.PinChanged(ctx, "conv_1", "msg_1", "alice", false)
	event = pub.lastEvent(t)
	if event.Pinned == nil || *event.Pinned {
		t.Errorf("expected unpinned event, got %+v", event)
	}
}

func TestMessageDeleted(t *testing.T) {
	pub := &memPublisher{}
	d := NewDispatcher(pub)

	d.MessageDeleted(context.Background(), "conv_1", "msg_1")

	event := pub.lastEvent(t)
	if event.Type != EventMessageDeleted || event.MessageID != "msg_1" {
		t.Errorf("unexpected event: %+v", event)
	}
}

// 同一會話的事件按提交順序發布到同一頻道
func TestEventOrdering(t *testing.T) {
	pub := &memPublisher{}
	d := NewDispatcher(pub)
	ctx := context.Background()

	d.StatusChanged(ctx, "conv_1", "msg_1", "bob", dbchatmsg.StatusDelivered)
	d.StatusChanged(ctx, "conv_1", "msg_1", "bob", dbchatmsg.StatusRead)
	d.MessageDeleted(ctx, "conv_1", "msg_1")

	if len(pub.payloads) != 3 {
		t.Fatalf("expected 3 events, got %d", len(pub.payloads))
	}
	wantTypes := []string{EventStatusChanged, EventStatusChanged, EventMessageDeleted}
	for i, payload := range pub.payloads {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("unmarshal event %d: %v", i, err)
		}
		if event.Type != wantTypes[i] {
			t.Errorf("event %d: expected %s, got %s", i, wantTypes[i], event.Type)
		}
		if pub.channels[i] != ChannelFor("conv_1") {
			t.Errorf("event %d published to %s", i, pub.channels[i])
		}
	}
}

// 發布失敗是盡力而為：不得 panic，也不向呼叫方傳播錯誤
func TestPublishFailureIsBestEffort(t *testing.T) {
	pub := &memPublisher{err: errors.New("connection refused")}
	d := NewDispatcher(pub)

	d.MessageDeleted(context.Background(), "conv_1", "msg_1")
	d.StatusChanged(context.Background(), "conv_1", "msg_1", "bob", dbchatmsg.StatusRead)
}
