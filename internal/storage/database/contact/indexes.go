package contact

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	contactsCollection := db.Collection("contacts")

	// 1. owner + 電話唯一索引（冪等同步的基礎）
	ownerPhoneIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_id", Value: 1},
			{Key: "phone", Value: 1},
		},
		Options: options.Index().SetName("owner_phone_idx").SetUnique(true),
	}

	// 2. owner + 名稱索引（按名稱查找）
	ownerNameIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_id", Value: 1},
			{Key: "name", Value: 1},
		},
		Options: options.Index().SetName("owner_name_idx"),
	}

	// 3. 更新時間索引
	updatedAtIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "updated_at", Value: -1},
		},
		Options: options.Index().SetName("updated_at_idx"),
	}

	contactIndexes := []mongo.IndexModel{
		ownerPhoneIndex,
		ownerNameIndex,
		updatedAtIndex,
	}

	_, err := contactsCollection.Indexes().CreateMany(ctx, contactIndexes)
	return err
}
