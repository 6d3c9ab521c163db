package chatmsg

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	messagesCollection := db.Collection("messages")

	// 1. 消息 ID 唯一索引
	idIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("id_idx").SetUnique(true),
	}

	// 2. 會話 ID + 創建時間複合索引（最重要的索引）
	conversationTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("conversation_time_idx"),
	}

	// 3. 發送者 ID + 創建時間索引
	senderTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("sender_time_idx"),
	}

	// 4. 全文搜索索引
	textSearchIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "content", Value: "text"},
		},
		Options: options.Index().SetName("content_text_idx"),
	}

	// 5. 接收狀態索引（未讀計數查詢）
	recipientStatusIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipients.user_id", Value: 1},
			{Key: "recipients.rank", Value: 1},
		},
		Options: options.Index().SetName("recipient_status_idx"),
	}

	// 6. 置頂消息索引
	pinnedIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "pinned", Value: 1},
			{Key: "pinned_at", Value: -1},
		},
		Options: options.Index().SetName("pinned_idx"),
	}

	messageIndexes := []mongo.IndexModel{
		idIndex,
		conversationTimeIndex,
		senderTimeIndex,
		textSearchIndex,
		recipientStatusIndex,
		pinnedIndex,
	}

	_, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes)
	return err
}
