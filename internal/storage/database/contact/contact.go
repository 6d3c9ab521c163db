package contact

import (
	"context"
	"time"

	"chat-backend/internal/platform/config"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ContactRepository 聯絡人倉儲接口
type ContactRepository interface {
	BulkUpsert(ctx context.Context, ownerID string, contacts []*Contact) (*BulkUpsertResult, error)
	GetByOwnerAndPhone(ctx context.Context, ownerID, phone string) (*Contact, error)
	ListByOwner(ctx context.Context, ownerID string, limit int, cursor string) ([]*Contact, string, bool, error)
	DeleteByOwnerAndPhone(ctx context.Context, ownerID, phone string) error
}

// Contact 聯絡人數據模型
// 同一個 owner 之下以標準化後的電話號碼唯一
type Contact struct {
	ID        string    `bson:"id" json:"id"`
	OwnerID   string    `bson:"owner_id" json:"owner_id"`
	Phone     string    `bson:"phone" json:"phone"`
	Name      string    `bson:"name" json:"name"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewContact 創建新的 Contact 實例
func NewContact(ownerID, phone, name string) *Contact {
	now := time.Now().UTC()
	return &Contact{
		ID:        bson.NewObjectID().Hex(),
		OwnerID:   ownerID,
		Phone:     phone,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BulkUpsertResult 批量寫入結果
type BulkUpsertResult struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
}

// ContactStore 聯絡人存儲實作
type ContactStore struct {
	collection *mongo.Collection
}

// NewContactStore 創建新的聯絡人存儲
func NewContactStore(db *mongo.Database) *ContactStore {
	return &ContactStore{
		collection: db.Collection("contacts"),
	}
}

// BulkUpsert 批量寫入聯絡人（以 owner_id + phone 為鍵，重複同步冪等）
func (s *ContactStore) BulkUpsert(ctx context.Context, ownerID string, contacts []*Contact) (*BulkUpsertResult, error) {
	if len(contacts) == 0 {
		return &BulkUpsertResult{}, nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(contacts))
	for _, c := range contacts {
		filter := bson.M{
			"owner_id": ownerID,
			"phone":    c.Phone,
		}
		update := bson.M{
			"$set": bson.M{
				"name":       c.Name,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"id":         bson.NewObjectID().Hex(),
				"owner_id":   ownerID,
				"phone":      c.Phone,
				"created_at": now,
			},
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(update).
			SetUpsert(true))
	}

	result, err := s.collection.BulkWrite(ctx, models)
	if err != nil {
		return nil, err
	}

	return &BulkUpsertResult{
		Inserted: result.UpsertedCount,
		Updated:  result.ModifiedCount,
	}, nil
}

// GetByOwnerAndPhone 根據 owner 與電話號碼獲取聯絡人
func (s *ContactStore) GetByOwnerAndPhone(ctx context.Context, ownerID, phone string) (*Contact, error) {
	var contact Contact
	err := s.collection.FindOne(ctx, bson.M{
		"owner_id": ownerID,
		"phone":    phone,
	}).Decode(&contact)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// ListByOwner 列出用戶的聯絡人
func (s *ContactStore) ListByOwner(
	ctx context.Context, ownerID string, limit int, cursor string,
) (
	contacts []*Contact, nextCursor string, hasMore bool, err error,
) {
	// 從配置讀取限制
	cfg := config.Get()
	defaultLimit := 20
	maxLimit := 100
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxLimit = cfg.Limits.Pagination.MaxPageSize
		}
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := bson.M{"owner_id": ownerID}

	// 如果有游標，添加游標條件
	if cursor != "" {
		filter["phone"] = bson.M{"$gt": cursor}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "phone", Value: 1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	contacts = []*Contact{}
	for cursorResult.Next(ctx) {
		var contact Contact
		if err := cursorResult.Decode(&contact); err != nil {
			return nil, "", false, err
		}
		contacts = append(contacts, &contact)
	}

	// 檢查是否有更多數據
	hasMore = len(contacts) > limit
	if hasMore {
		contacts = contacts[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(contacts) > 0 {
		nextCursor = contacts[len(contacts)-1].Phone
	}

	return contacts, nextCursor, hasMore, nil
}

// DeleteByOwnerAndPhone 刪除聯絡人
func (s *ContactStore) DeleteByOwnerAndPhone(ctx context.Context, ownerID, phone string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{
		"owner_id": ownerID,
		"phone":    phone,
	})
	return err
}
