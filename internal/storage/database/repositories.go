package database

import (
	"context"

	"chat-backend/internal/platform/logger"
	"chat-backend/internal/storage/database/chatmsg"
	"chat-backend/internal/storage/database/contact"
	"chat-backend/internal/storage/database/group"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Contact *contact.ContactStore
	Group   *group.GroupStore
	Message *chatmsg.MessageStore
}

// NewRepositories 創建倉儲集合.
func NewRepositories() *Repositories {
	db := mongoDB
	if db == nil {
		return nil
	}

	// 創建索引以優化查詢性能
	ctx := context.Background()
	if err := contact.CreateIndexes(ctx, db); err != nil {
		logger.LogWarnf("建立聯絡人索引失敗: %v", err)
	}
	if err := group.CreateIndexes(ctx, db); err != nil {
		logger.LogWarnf("建立會話索引失敗: %v", err)
	}
	if err := chatmsg.CreateIndexes(ctx, db); err != nil {
		logger.LogWarnf("建立消息索引失敗: %v", err)
	}

	return &Repositories{
		Contact: contact.NewContactStore(db),
		Group:   group.NewGroupStore(db),
		Message: chatmsg.NewMessageStore(db),
	}
}

// 全局變數，用於存儲 MongoDB 連接
var mongoDB *mongo.Database

// SetMongoDB 設置 MongoDB 連接.
func SetMongoDB(db *mongo.Database) {
	mongoDB = db
}
