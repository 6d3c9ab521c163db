package chatmsg

import (
	"context"
	"time"

	"chat-backend/internal/platform/config"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 接收狀態常數（狀態只能沿 sent -> delivered -> read 單向遞進）
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"

	RankSent      = 1
	RankDelivered = 2
	RankRead      = 3
)

// StatusRank 回傳狀態對應的等級，未知狀態回傳 0
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return RankSent
	case StatusDelivered:
		return RankDelivered
	case StatusRead:
		return RankRead
	default:
		return 0
	}
}

// MessageRepository 消息倉儲接口
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string, since, until *time.Time) ([]*Message, string, bool, error)
	Update(ctx context.Context, id string, update map[string]interface{}) error
	SoftDelete(ctx context.Context, id string) error
	AdvanceRecipientStatus(ctx context.Context, messageID, userID string, rank int, status string) (bool, error)
	Pin(ctx context.Context, conversationID, messageID, userID string) (bool, error)
	Unpin(ctx context.Context, conversationID, messageID string) (bool, error)
	ListPinned(ctx context.Context, conversationID string) ([]*Message, error)
	GetUnreadCount(ctx context.Context, userID string, conversationID *string) (int, error)
	Search(ctx context.Context, conversationID, query string, limit int, cursor string) ([]*Message, string, bool, error)
}

// Message 消息數據模型
type Message struct {
	ID                     string                 `bson:"id" json:"id"`
	ConversationID         string                 `bson:"conversation_id" json:"conversation_id"`
	SenderID               string                 `bson:"sender_id" json:"sender_id"`
	Content                string                 `bson:"content" json:"content"`
	Type                   string                 `bson:"type" json:"type"`
	CreatedAt              time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt              time.Time              `bson:"updated_at" json:"updated_at"`
	Recipients             []Recipient            `bson:"recipients" json:"recipients"`
	Attachments            []Attachment           `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReplyToMessageID       string                 `bson:"reply_to_message_id,omitempty" json:"reply_to_message_id,omitempty"`
	ForwardedFromMessageID string                 `bson:"forwarded_from_message_id,omitempty" json:"forwarded_from_message_id,omitempty"`
	BrokenReference        bool                   `bson:"broken_reference,omitempty" json:"broken_reference,omitempty"`
	Pinned                 bool                   `bson:"pinned" json:"pinned"`
	PinnedAt               *time.Time             `bson:"pinned_at,omitempty" json:"pinned_at,omitempty"`
	PinHistory             []PinRecord            `bson:"pin_history,omitempty" json:"pin_history,omitempty"`
	Deleted                bool                   `bson:"deleted" json:"-"`
	DeletedAt              *time.Time             `bson:"deleted_at,omitempty" json:"-"`
	CustomData             map[string]interface{} `bson:"custom_data,omitempty" json:"custom_data,omitempty"`
}

// NewMessage 創建新的 Message 實例
func NewMessage() Message {
	now := time.Now().UTC()
	return Message{ID: bson.NewObjectID().Hex(), CreatedAt: now, UpdatedAt: now}
}

// Recipient 每個接收者的送達狀態
type Recipient struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	Status    string    `bson:"status" json:"status"`
	Rank      int       `bson:"rank" json:"-"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Attachment 消息附件元數據
type Attachment struct {
	ID          string `bson:"id" json:"id"`
	FileName    string `bson:"file_name" json:"file_name"`
	ContentType string `bson:"content_type" json:"content_type"`
	Size        int64  `bson:"size" json:"size"`
	ObjectKey   string `bson:"object_key" json:"-"`
	URL         string `bson:"url" json:"url"`
}

// PinRecord 置頂歷史記錄（只追加，不回寫）
type PinRecord struct {
	UserID   string    `bson:"user_id" json:"user_id"`
	PinnedAt time.Time `bson:"pinned_at" json:"pinned_at"`
}

// MessageStore 消息存儲實作
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的消息存儲
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Create 創建消息
func (s *MessageStore) Create(ctx context.Context, message *Message) error {
	now := time.Now().UTC()
	if message.ID == "" {
		message.ID = bson.NewObjectID().Hex()
	}
	message.CreatedAt = now
	message.UpdatedAt = now

	if message.Recipients == nil {
		message.Recipients = []Recipient{}
	}

	_, err := s.collection.InsertOne(ctx, message)
	return err
}

// GetByID 根據 ID 獲取消息（不包含已刪除的消息）
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	var message Message
	err := s.collection.FindOne(ctx, bson.M{
		"id":      id,
		"deleted": bson.M{"$ne": true},
	}).Decode(&message)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// GetByConversationID 根據會話 ID 獲取消息
func (s *MessageStore) GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string, since, until *time.Time) ([]*Message, string, bool, error) {
	// 從配置讀取限制
	cfg := config.Get()
	defaultLimit := 20
	maxLimit := 100
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.MongoDB.MaxQueryLimit > 0 {
			maxLimit = cfg.Limits.MongoDB.MaxQueryLimit
		}
	}

	// 限制分頁大小，防止性能問題
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := bson.M{
		"conversation_id": conversationID,
		"deleted":         bson.M{"$ne": true},
	}

	// 添加時間範圍過濾
	if since != nil {
		filter["created_at"] = bson.M{"$gte": *since}
	}
	if until != nil {
		if filter["created_at"] == nil {
			filter["created_at"] = bson.M{"$lte": *until}
		} else {
			filter["created_at"].(bson.M)["$lte"] = *until
		}
	}

	// 如果有游標，添加游標條件（查找比游標時間更早的訊息）
	if cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339, cursor)
		if err == nil {
			filter["created_at"] = bson.M{"$lt": cursorTime}
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1))                      // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}}) // 按創建時間倒序排列（新消息在前）

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, "", false, err
		}
		messages = append(messages, &message)
	}

	// 檢查是否有更多數據
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339)
	}

	return messages, nextCursor, hasMore, nil
}

// Update 更新消息
func (s *MessageStore) Update(ctx context.Context, id string, update map[string]interface{}) error {
	update["updated_at"] = time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SoftDelete 軟刪除消息（保留記錄但從列表中排除）
func (s *MessageStore) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":      id,
		"deleted": bson.M{"$ne": true},
	}, bson.M{
		"$set": bson.M{
			"deleted":    true,
			"deleted_at": now,
			"updated_at": now,
		},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// AdvanceRecipientStatus 推進接收者狀態
// 只在新狀態等級高於當前等級時更新，回傳是否實際推進
func (s *MessageStore) AdvanceRecipientStatus(ctx context.Context, messageID, userID string, rank int, status string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":      messageID,
		"deleted": bson.M{"$ne": true},
		"recipients": bson.M{
			"$elemMatch": bson.M{
				"user_id": userID,
				"rank":    bson.M{"$lt": rank},
			},
		},
	}, bson.M{
		"$set": bson.M{
			"recipients.$.status":     status,
			"recipients.$.rank":       rank,
			"recipients.$.updated_at": now,
			"updated_at":              now,
		},
	})
	if err != nil {
		return false, err
	}

	return result.ModifiedCount > 0, nil
}

// Pin 置頂消息並追加置頂歷史
// 已置頂的消息不重複追加歷史，回傳是否實際置頂
func (s *MessageStore) Pin(ctx context.Context, conversationID, messageID, userID string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":              messageID,
		"conversation_id": conversationID,
		"deleted":         bson.M{"$ne": true},
		"pinned":          bson.M{"$ne": true},
	}, bson.M{
		"$set": bson.M{
			"pinned":     true,
			"pinned_at":  now,
			"updated_at": now,
		},
		"$push": bson.M{
			"pin_history": PinRecord{UserID: userID, PinnedAt: now},
		},
	})
	if err != nil {
		return false, err
	}

	return result.ModifiedCount > 0, nil
}

// Unpin 取消置頂，置頂歷史保持不變，回傳是否實際取消
func (s *MessageStore) Unpin(ctx context.Context, conversationID, messageID string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":              messageID,
		"conversation_id": conversationID,
		"deleted":         bson.M{"$ne": true},
		"pinned":          true,
	}, bson.M{
		"$set": bson.M{
			"pinned":     false,
			"updated_at": now,
		},
		"$unset": bson.M{
			"pinned_at": "",
		},
	})
	if err != nil {
		return false, err
	}

	return result.ModifiedCount > 0, nil
}

// ListPinned 列出會話中所有置頂消息（最近置頂的在前）
func (s *MessageStore) ListPinned(ctx context.Context, conversationID string) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"pinned":          true,
		"deleted":         bson.M{"$ne": true},
	}

	opts := options.Find()
	opts.SetSort(bson.D{{Key: "pinned_at", Value: -1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	messages := []*Message{}
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

// GetUnreadCount 獲取未讀消息數量
func (s *MessageStore) GetUnreadCount(ctx context.Context, userID string, conversationID *string) (int, error) {
	filter := bson.M{
		"deleted": bson.M{"$ne": true},
		"recipients": bson.M{
			"$elemMatch": bson.M{
				"user_id": userID,
				"rank":    bson.M{"$lt": RankRead},
			},
		},
	}

	if conversationID != nil {
		filter["conversation_id"] = *conversationID
	}

	count, err := s.collection.CountDocuments(ctx, filter)
	return int(count), err
}

// Search 搜索消息
func (s *MessageStore) Search(ctx context.Context, conversationID, query string, limit int, cursor string) ([]*Message, string, bool, error) {
	// 從配置讀取限制
	cfg := config.Get()
	defaultLimit := 20
	maxLimit := 100
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.MongoDB.MaxQueryLimit > 0 {
			maxLimit = cfg.Limits.MongoDB.MaxQueryLimit
		}
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := bson.M{
		"conversation_id": conversationID,
		"deleted":         bson.M{"$ne": true},
		"$text":           bson.M{"$search": query},
	}

	// 如果有游標，添加游標條件
	if cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339, cursor)
		if err == nil {
			filter["created_at"] = bson.M{"$lt": cursorTime}
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if decodeErr := cursorResult.Decode(&message); decodeErr != nil {
			return nil, "", false, decodeErr
		}
		messages = append(messages, &message)
	}

	// 檢查是否有更多數據
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339)
	}

	return messages, nextCursor, hasMore, nil
}
