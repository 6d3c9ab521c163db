package group

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	groupsCollection := db.Collection("groups")

	// 1. 會話 ID 唯一索引
	idIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("id_idx").SetUnique(true),
	}

	// 2. 會話類型索引
	typeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "type", Value: 1},
		},
		Options: options.Index().SetName("type_idx"),
	}

	// 3. 擁有者 ID 索引
	ownerIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_id", Value: 1},
		},
		Options: options.Index().SetName("owner_idx"),
	}

	// 4. 成員用戶 ID 索引（列出用戶會話的主要查詢）
	memberIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "members.user_id", Value: 1},
			{Key: "last_message_at", Value: -1},
		},
		Options: options.Index().SetName("member_last_message_idx"),
	}

	// 5. 創建時間索引
	createdAtIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("created_at_idx"),
	}

	groupIndexes := []mongo.IndexModel{
		idIndex,
		typeIndex,
		ownerIndex,
		memberIndex,
		createdAtIndex,
	}

	_, err := groupsCollection.Indexes().CreateMany(ctx, groupIndexes)
	return err
}
