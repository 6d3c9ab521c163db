package group

import (
	"context"
	"fmt"
	"time"

	"chat-backend/internal/platform/config"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 會話類型常數
const (
	TypeGroup  = "group"
	TypeDirect = "direct"
)

// 成員角色常數
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// GroupRepository 群組倉儲接口
type GroupRepository interface {
	Create(ctx context.Context, g *Group) error
	GetByID(ctx context.Context, id string) (*Group, error)
	Update(ctx context.Context, id string, update map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	ListUserGroups(ctx context.Context, userID string, limit int, cursor string) ([]*Group, string, bool, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	AddMember(ctx context.Context, groupID string, member *Member) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	GetMembers(ctx context.Context, groupID string) ([]Member, error)
	FindDirect(ctx context.Context, userA, userB string) (*Group, error)
	TouchLastMessage(ctx context.Context, groupID, preview string, at time.Time) error
}

// Group 會話數據模型（群組與一對一會話共用）
type Group struct {
	ID              string                 `bson:"id" json:"id"`
	Name            string                 `bson:"name" json:"name"`
	AvatarURL       string                 `bson:"avatar_url" json:"avatar_url"`
	AvatarObjectKey string                 `bson:"avatar_object_key,omitempty" json:"-"`
	Type            string                 `bson:"type" json:"type"`
	OwnerID         string                 `bson:"owner_id" json:"owner_id"`
	Settings        Settings               `bson:"settings" json:"settings"`
	CreatedAt       time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `bson:"updated_at" json:"updated_at"`
	LastMessageAt   time.Time              `bson:"last_message_at" json:"last_message_at"`
	LastMessage     string                 `bson:"last_message" json:"last_message"`
	Members         []Member               `bson:"members,omitempty" json:"members,omitempty"`
	Metadata        map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewGroup 創建新的 Group 實例
func NewGroup() Group {
	now := time.Now().UTC()
	return Group{ID: bson.NewObjectID().Hex(), CreatedAt: now, UpdatedAt: now, LastMessageAt: now}
}

// Member 會話成員數據模型
type Member struct {
	UserID      string    `bson:"user_id" json:"user_id"`
	DisplayName string    `bson:"display_name" json:"display_name"`
	Role        string    `bson:"role" json:"role"`
	JoinedAt    time.Time `bson:"joined_at" json:"joined_at"`
	LastSeen    time.Time `bson:"last_seen" json:"last_seen"`
	LastReadAt  time.Time `bson:"last_read_at" json:"last_read_at"`
}

// Settings 會話設置數據模型
type Settings struct {
	AllowInvite      bool `bson:"allow_invite" json:"allow_invite"`
	AllowPinMessages bool `bson:"allow_pin_messages" json:"allow_pin_messages"`
	MaxMembers       int  `bson:"max_members" json:"max_members"`
}

// GroupStore 會話存儲實作
type GroupStore struct {
	collection *mongo.Collection
}

// NewGroupStore 創建新的會話存儲
func NewGroupStore(db *mongo.Database) *GroupStore {
	return &GroupStore{
		collection: db.Collection("groups"),
	}
}

// Create 創建會話
func (s *GroupStore) Create(ctx context.Context, g *Group) error {
	now := time.Now().UTC()
	if g.ID == "" {
		g.ID = bson.NewObjectID().Hex()
	}
	g.CreatedAt = now
	g.UpdatedAt = now
	g.LastMessageAt = now

	_, err := s.collection.InsertOne(ctx, g)
	return err
}

// GetByID 根據 ID 獲取會話
func (s *GroupStore) GetByID(ctx context.Context, id string) (*Group, error) {
	var g Group
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Update 更新會話
func (s *GroupStore) Update(ctx context.Context, id string, update map[string]interface{}) error {
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

// Delete 刪除會話
func (s *GroupStore) Delete(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"id": id})
	return err
}

// ListUserGroups 列出用戶參與的會話
func (s *GroupStore) ListUserGroups(
	ctx context.Context, userID string, limit int, cursor string,
) (
	groups []*Group, nextCursor string, hasMore bool, err error,
) {
	// 從配置讀取限制
	cfg := config.Get()
	defaultLimit := 20
	maxLimit := 100
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.MongoDB.UserGroupsLimit > 0 {
			maxLimit = cfg.Limits.MongoDB.UserGroupsLimit
		}
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	filter := bson.M{
		"members.user_id": userID,
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "last_message_at", Value: -1}})

	// 如果有游標，添加游標條件
	if cursor != "" {
		cursorTime, parseErr := time.Parse(time.RFC3339, cursor)
		if parseErr == nil {
			filter["last_message_at"] = bson.M{"$lt": cursorTime}
		}
	}

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	groups = []*Group{}
	for cursorResult.Next(ctx) {
		var g Group
		if err := cursorResult.Decode(&g); err != nil {
			return nil, "", false, err
		}
		groups = append(groups, &g)
	}

	// 檢查是否有更多數據
	hasMore = len(groups) > limit
	if hasMore {
		groups = groups[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(groups) > 0 {
		nextCursor = groups[len(groups)-1].LastMessageAt.Format(time.RFC3339)
	}

	return groups, nextCursor, hasMore, nil
}

// IsMember 檢查用戶是否是會話成員
func (s *GroupStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"id":              groupID,
		"members.user_id": userID,
	})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// AddMember 添加成員（同一用戶重複加入不產生重複記錄）
func (s *GroupStore) AddMember(ctx context.Context, groupID string, member *Member) error {
	now := time.Now().UTC()
	member.JoinedAt = now
	member.LastSeen = now
	member.LastReadAt = now

	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":              groupID,
		"members.user_id": bson.M{"$ne": member.UserID}, // 已是成員則不重複添加
	}, bson.M{
		"$push": bson.M{"members": member},
		"$set":  bson.M{"updated_at": now},
	})

	if err != nil {
		return fmt.Errorf("update failed: %v", err)
	}

	if result.MatchedCount == 0 {
		// 會話不存在或用戶已是成員，由呼叫端判斷
		exists, existsErr := s.exists(ctx, groupID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return mongo.ErrNoDocuments
		}
	}

	return nil
}

// RemoveMember 移除成員
func (s *GroupStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": groupID}, bson.M{
		"$pull": bson.M{"members": bson.M{"user_id": userID}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
	return err
}

// GetMembers 獲取會話成員
func (s *GroupStore) GetMembers(ctx context.Context, groupID string) ([]Member, error) {
	var g Group
	err := s.collection.FindOne(ctx, bson.M{"id": groupID}).Decode(&g)
	if err != nil {
		return nil, err
	}

	return g.Members, nil
}

// FindDirect 查找兩個用戶之間的一對一會話
func (s *GroupStore) FindDirect(ctx context.Context, userA, userB string) (*Group, error) {
	var g Group
	err := s.collection.FindOne(ctx, bson.M{
		"type": TypeDirect,
		"$and": []bson.M{
			{"members.user_id": userA},
			{"members.user_id": userB},
		},
	}).Decode(&g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// TouchLastMessage 更新會話的最後消息摘要與時間
func (s *GroupStore) TouchLastMessage(ctx context.Context, groupID, preview string, at time.Time) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": groupID}, bson.M{
		"$set": bson.M{
			"last_message":    preview,
			"last_message_at": at,
			"updated_at":      at,
		},
	})
	return err
}

// exists 檢查會話是否存在
func (s *GroupStore) exists(ctx context.Context, groupID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"id": groupID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
