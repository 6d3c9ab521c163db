package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat-backend/internal/constants"
	"chat-backend/internal/platform/logger"
	dbgroup "chat-backend/internal/storage/database/group"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// 群組目錄錯誤
var (
	ErrEmptyName       = errors.New("群組名稱不能為空")
	ErrEmptyMembership = errors.New("群組成員不能為空")
	ErrTooManyMembers  = errors.New("群組成員數量超過限制")
	ErrAvatarTooLarge  = errors.New("群組頭像超過大小限制")
	ErrNotFound        = errors.New("會話不存在")
	ErrNotMember       = errors.New("用戶不是會話成員")
	ErrNotOwner        = errors.New("只有群組擁有者可以執行此操作")
)

// AvatarRef 已通過附件接收的頭像引用
type AvatarRef struct {
	URL       string
	ObjectKey string
	Size      int64
}

// Repository 群組目錄依賴的存儲接口
type Repository interface {
	Create(ctx context.Context, g *dbgroup.Group) error
	GetByID(ctx context.Context, id string) (*dbgroup.Group, error)
	Update(ctx context.Context, id string, update map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	ListUserGroups(ctx context.Context, userID string, limit int, cursor string) ([]*dbgroup.Group, string, bool, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	AddMember(ctx context.Context, groupID string, member *dbgroup.Member) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	GetMembers(ctx context.Context, groupID string) ([]dbgroup.Member, error)
	FindDirect(ctx context.Context, userA, userB string) (*dbgroup.Group, error)
}

// Directory 群組目錄
// 會話成員集合的唯一擁有者，派發層每次都必須重新查詢而不是緩存
type Directory struct {
	repo           Repository
	maxMembers     int
	maxAvatarBytes int64
}

// NewDirectory 創建群組目錄
func NewDirectory(repo Repository, maxMembers int, maxAvatarBytes int64) *Directory {
	if maxMembers <= 0 {
		maxMembers = constants.DefaultMaxGroupMembers
	}
	if maxAvatarBytes <= 0 {
		maxAvatarBytes = constants.DefaultMaxAvatarBytes
	}
	return &Directory{
		repo:           repo,
		maxMembers:     maxMembers,
		maxAvatarBytes: maxAvatarBytes,
	}
}

// CreateGroup 創建群組
// 擁有者在空集合檢查之前自動加入，因此空的成員列表會產生只有擁有者的群組
func (d *Directory) CreateGroup(ctx context.Context, ownerID, name string, memberIDs []string, avatar *AvatarRef) (*dbgroup.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	// 擁有者先加入，再去重
	members := normalizeMembers(ownerID, memberIDs)
	if len(members) == 0 {
		return nil, ErrEmptyMembership
	}
	if len(members) > d.maxMembers {
		return nil, ErrTooManyMembers
	}

	g := dbgroup.NewGroup()
	g.Name = name
	g.Type = dbgroup.TypeGroup
	g.OwnerID = ownerID
	g.Settings = dbgroup.Settings{
		AllowInvite:      true,
		AllowPinMessages: true,
		MaxMembers:       d.maxMembers,
	}
	g.Members = make([]dbgroup.Member, 0, len(members))
	for _, userID := range members {
		role := dbgroup.RoleMember
		if userID == ownerID {
			role = dbgroup.RoleOwner
		}
		g.Members = append(g.Members, dbgroup.Member{
			UserID: userID,
			Role:   role,
		})
	}

	if avatar != nil {
		if avatar.Size > d.maxAvatarBytes {
			return nil, ErrAvatarTooLarge
		}
		g.AvatarURL = avatar.URL
		g.AvatarObjectKey = avatar.ObjectKey
	}

	if err := d.repo.Create(ctx, &g); err != nil {
		return nil, fmt.Errorf("創建群組失敗: %w", err)
	}

	logger.Info(ctx, "群組創建成功",
		logger.WithUserID(ownerID),
		logger.WithConversationID(g.ID),
		logger.WithAction("group_create"),
		logger.WithDetails(map[string]interface{}{"members": len(g.Members)}))

	return &g, nil
}

// CreateDirect 查找或創建兩個用戶之間的一對一會話
func (d *Directory) CreateDirect(ctx context.Context, userID, peerID string) (*dbgroup.Group, error) {
	if userID == "" || peerID == "" || userID == peerID {
		return nil, ErrEmptyMembership
	}

	// 已存在則直接回傳
	existing, err := d.repo.FindDirect(ctx, userID, peerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	g := dbgroup.NewGroup()
	g.Type = dbgroup.TypeDirect
	g.OwnerID = userID
	g.Settings = dbgroup.Settings{
		AllowPinMessages: true,
		MaxMembers:       2,
	}
	g.Members = []dbgroup.Member{
		{UserID: userID, Role: dbgroup.RoleOwner},
		{UserID: peerID, Role: dbgroup.RoleMember},
	}

	if err := d.repo.Create(ctx, &g); err != nil {
		return nil, fmt.Errorf("創建一對一會話失敗: %w", err)
	}

	return &g, nil
}

// Get 獲取會話（僅成員可見）
func (d *Directory) Get(ctx context.Context, groupID, userID string) (*dbgroup.Group, error) {
	g, err := d.repo.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !containsMember(g.Members, userID) {
		return nil, ErrNotMember
	}

	return g, nil
}

// Rename 重命名群組（僅擁有者）
func (d *Directory) Rename(ctx context.Context, groupID, userID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	if err := d.requireOwner(ctx, groupID, userID); err != nil {
		return err
	}

	return d.repo.Update(ctx, groupID, map[string]interface{}{"name": name})
}

// SetAvatar 更新群組頭像（僅擁有者），大小上限比一般附件更嚴格
func (d *Directory) SetAvatar(ctx context.Context, groupID, userID string, avatar AvatarRef) error {
	if avatar.Size > d.maxAvatarBytes {
		return ErrAvatarTooLarge
	}

	if err := d.requireOwner(ctx, groupID, userID); err != nil {
		return err
	}

	return d.repo.Update(ctx, groupID, map[string]interface{}{
		"avatar_url":        avatar.URL,
		"avatar_object_key": avatar.ObjectKey,
	})
}

// Delete 刪除群組（僅擁有者）
func (d *Directory) Delete(ctx context.Context, groupID, userID string) error {
	if err := d.requireOwner(ctx, groupID, userID); err != nil {
		return err
	}

	return d.repo.Delete(ctx, groupID)
}

// AddMember 添加成員（重複添加是冪等的）
func (d *Directory) AddMember(ctx context.Context, groupID, actorID, userID string) error {
	g, err := d.repo.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	if !containsMember(g.Members, actorID) {
		return ErrNotMember
	}
	if !g.Settings.AllowInvite && actorID != g.OwnerID {
		return ErrNotOwner
	}
	if len(g.Members) >= d.maxMembers {
		return ErrTooManyMembers
	}

	err = d.repo.AddMember(ctx, groupID, &dbgroup.Member{
		UserID: userID,
		Role:   dbgroup.RoleMember,
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// RemoveMember 移除成員（擁有者可移除任何人，成員只能移除自己）
func (d *Directory) RemoveMember(ctx context.Context, groupID, actorID, userID string) error {
	g, err := d.repo.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	if actorID != g.OwnerID && actorID != userID {
		return ErrNotOwner
	}
	if !containsMember(g.Members, userID) {
		return ErrNotMember
	}

	return d.repo.RemoveMember(ctx, groupID, userID)
}

// GetMemberIDs 獲取會話當前成員 ID 集合
// 派發層在每次變更時呼叫，不可跨請求緩存
func (d *Directory) GetMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	members, err := d.repo.GetMembers(ctx, groupID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

// IsMember 檢查用戶是否是會話成員
func (d *Directory) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return d.repo.IsMember(ctx, groupID, userID)
}

// ListUserGroups 列出用戶參與的會話
func (d *Directory) ListUserGroups(ctx context.Context, userID string, limit int, cursor string) ([]*dbgroup.Group, string, bool, error) {
	return d.repo.ListUserGroups(ctx, userID, limit, cursor)
}

// requireOwner 檢查用戶是否是群組擁有者
func (d *Directory) requireOwner(ctx context.Context, groupID, userID string) error {
	g, err := d.repo.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return err
	}

	if g.OwnerID != userID {
		return ErrNotOwner
	}

	return nil
}

// normalizeMembers 擁有者加入後去重，保持輸入順序
func normalizeMembers(ownerID string, memberIDs []string) []string {
	seen := make(map[string]bool, len(memberIDs)+1)
	members := make([]string, 0, len(memberIDs)+1)

	if ownerID != "" {
		seen[ownerID] = true
		members = append(members, ownerID)
	}

	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	return members
}

// containsMember 檢查成員列表是否包含指定用戶
func containsMember(members []dbgroup.Member, userID string) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
