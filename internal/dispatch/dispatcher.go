package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-backend/internal/constants"
	"chat-backend/internal/platform/driver"
	"chat-backend/internal/platform/logger"
	dbchatmsg "chat-backend/internal/storage/database/chatmsg"
)

// 事件類型常數
const (
	EventMessageCreated = "message.created"
	EventStatusChanged  = "message.status"
	EventPinChanged     = "message.pin"
	EventMessageDeleted = "message.deleted"
)

// Event 會話事件
// 事件只是通知，消息存儲才是事實來源；斷線重連的客戶端必須重新拉取狀態
type Event struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversation_id"`
	MessageID      string             `json:"message_id,omitempty"`
	UserID         string             `json:"user_id,omitempty"`
	Status         string             `json:"status,omitempty"`
	Pinned         *bool              `json:"pinned,omitempty"`
	Message        *dbchatmsg.Message `json:"message,omitempty"`
	Timestamp      int64              `json:"timestamp"`
}

// Publisher 事件發布接口
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher 以 Redis Pub/Sub 實作事件發布
type RedisPublisher struct{}

// Publish 發布事件到 Redis 頻道
func (RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return driver.Publish(ctx, channel, payload)
}

// Dispatcher 會話事件派發器
// 無狀態中繼：每個會話一個頻道，訂閱者按提交順序收到同一會話的事件
type Dispatcher struct {
	pub Publisher
}

// NewDispatcher 創建派發器
func NewDispatcher(pub Publisher) *Dispatcher {
	return &Dispatcher{pub: pub}
}

// ChannelFor 回傳會話對應的事件頻道名稱
func ChannelFor(conversationID string) string {
	return constants.ConversationChannelPrefix + conversationID
}

// MessageCreated 派發新消息事件
func (d *Dispatcher) MessageCreated(ctx context.Context, message *dbchatmsg.Message) {
	d.publish(ctx, &Event{
		Type:           EventMessageCreated,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
		UserID:         message.SenderID,
		Message:        message,
	})
}

// StatusChanged 派發接收狀態變更事件
func (d *Dispatcher) StatusChanged(ctx context.Context, conversationID, messageID, userID, status string) {
	d.publish(ctx, &Event{
		Type:           EventStatusChanged,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		Status:         status,
	})
}

// PinChanged 派發置頂狀態變更事件
func (d *Dispatcher) PinChanged(ctx context.Context, conversationID, messageID, userID string, pinned bool) {
	d.publish(ctx, &Event{
		Type:           EventPinChanged,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		Pinned:         &pinned,
	})
}

// MessageDeleted 派發消息刪除事件
func (d *Dispatcher) MessageDeleted(ctx context.Context, conversationID, messageID string) {
	d.publish(ctx, &Event{
		Type:           EventMessageDeleted,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// publish 發布事件，盡力而為：失敗只記錄日誌，不影響已提交的存儲變更
func (d *Dispatcher) publish(ctx context.Context, event *Event) {
	event.Timestamp = time.Now().UTC().UnixMilli()

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error(ctx, fmt.Sprintf("事件序列化失敗: %v", err),
			logger.WithConversationID(event.ConversationID),
			logger.WithMessageID(event.MessageID),
			logger.WithAction("dispatch"))
		return
	}

	if err := d.pub.Publish(ctx, ChannelFor(event.ConversationID), payload); err != nil {
		logger.Error(ctx, fmt.Sprintf("事件發布失敗: %v", err),
			logger.WithConversationID(event.ConversationID),
			logger.WithMessageID(event.MessageID),
			logger.WithAction("dispatch"))
	}
}
