package group

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	dbgroup "chat-backend/internal/storage/database/group"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// memGroupRepo 記憶體群組存儲
type memGroupRepo struct {
	groups map[string]*dbgroup.Group
}

func newMemGroupRepo() *memGroupRepo {
	return &memGroupRepo{groups: make(map[string]*dbgroup.Group)}
}

func (m *memGroupRepo) Create(_ context.Context, g *dbgroup.Group) error {
	copied := *g
	m.groups[g.ID] = &copied
	return nil
}

func (m *memGroupRepo) GetByID(_ context.Context, id string) (*dbgroup.Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	copied := *g
	return &copied, nil
}

func (m *memGroupRepo) Update(_ context.Context, id string, update map[string]interface{}) error {
	g, ok := m.groups[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	if name, ok := update["name"].(string); ok {
		g.Name = name
	}
	if url, ok := update["avatar_url"].(string); ok {
		g.AvatarURL = url
	}
	if key, ok := update["avatar_object_key"].(string); ok {
		g.AvatarObjectKey = key
	}
	return nil
}

func (m *memGroupRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.groups[id]; !ok {
		return mongo.ErrNoDocuments
	}
	delete(m.groups, id)
	return nil
}

func (m *memGroupRepo) ListUserGroups(_ context.Context, userID string, _ int, _ string) ([]*dbgroup.Group, string, bool, error) {
	var out []*dbgroup.Group
	for _, g := range m.groups {
		for _, member := range g.Members {
			if member.UserID == userID {
				copied := *g
				out = append(out, &copied)
				break
			}
		}
	}
	return out, "", false, nil
}

func (m *memGroupRepo) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	g, ok := m.groups[groupID]
	if !ok {
		return false, nil
	}
	for _, member := range g.Members {
		if member.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memGroupRepo) AddMember(_ context.Context, groupID string, member *dbgroup.Member) error {
	g, ok := m.groups[groupID]
	if !ok {
		return mongo.ErrNoDocuments
	}
	for _, existing := range g.Members {
		if existing.UserID == member.UserID {
			return nil
		}
	}
	g.Members = append(g.Members, *member)
	return nil
}

func (m *memGroupRepo) RemoveMember(_ context.Context, groupID, userID string) error {
	g, ok := m.groups[groupID]
	if !ok {
		return mongo.ErrNoDocuments
	}
	kept := g.Members[:0]
	for _, member := range g.Members {
		if member.UserID != userID {
			kept = append(kept, member)
		}
	}
	g.Members = kept
	return nil
}

func (m *memGroupRepo) GetMembers(_ context.Context, groupID string) ([]dbgroup.Member, error) {
	g, ok := m.groups[groupID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return append([]dbgroup.Member(nil), g.Members...), nil
}

func (m *memGroupRepo) FindDirect(_ context.Context, userA, userB string) (*dbgroup.Group, error) {
	for _, g := range m.groups {
		if g.Type != dbgroup.TypeDirect {
			continue
		}
		hasA, hasB := false, false
		for _, member := range g.Members {
			if member.UserID == userA {
				hasA = true
			}
			if member.UserID == userB {
				hasB = true
			}
		}
		if hasA && hasB {
			copied := *g
			return &copied, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func newTestDirectory(repo Repository) *Directory {
	return NewDirectory(repo, 10, 5<<20)
}

func TestCreateGroup(t *testing.T) {
	repo := newMemGroupRepo()
	d := newTestDirectory(repo)

	g, err := d.CreateGroup(context.Background(), "owner_1", "週末旅行", []string{"user_2", "user_3"}, nil)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if g.Type != dbgroup.TypeGroup {
		t.Errorf("expected group type, got %s", g.Type)
	}
	if g.OwnerID != "owner_1" {
		t.Errorf("expected owner_1, got %s", g.OwnerID)
	}
	if len(g.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(g.Members))
	}
	// 擁有者排在第一位且角色為 owner
	if g.Members[0].UserID != "owner_1" || g.Members[0].Role != dbgroup.RoleOwner {
		t.Errorf("expected owner first with owner role, got %+v", g.Members[0])
	}
}

// 擁有者在空集合檢查之前加入：空成員列表產生只有擁有者的群組
func TestCreateGroupOwnerOnly(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())

	g, err := d.CreateGroup(context.Background(), "owner_1", "備忘", nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if len(g.Members) != 1 || g.Members[0].UserID != "owner_1" {
		t.Fatalf("expected owner-only group, got %+v", g.Members)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	testCases := []struct {
		name    string
		ownerID string
		gname   string
		members []string
		avatar  *AvatarRef
		wantErr error
	}{
		{"空名稱", "owner_1", "", nil, nil, ErrEmptyName},
		{"純空白名稱", "owner_1", "   ", nil, nil, ErrEmptyName},
		{"無擁有者也無成員", "", "群組", nil, nil, ErrEmptyMembership},
		{"頭像超過上限", "owner_1", "群組", nil, &AvatarRef{Size: 6 << 20}, ErrAvatarTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.CreateGroup(ctx, tc.ownerID, tc.gname, tc.members, tc.avatar)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateGroupTooManyMembers(t *testing.T) {
	d := NewDirectory(newMemGroupRepo(), 3, 5<<20)

	members := make([]string, 5)
	for i := range members {
		members[i] = fmt.Sprintf("user_%d", i)
	}

	_, err := d.CreateGroup(context.Background(), "owner_1", "群組", members, nil)
	if !errors.Is(err, ErrTooManyMembers) {
		t.Fatalf("expected ErrTooManyMembers, got %v", err)
	}
}

// 成員列表中的重複項與擁有者自身會被去重
func TestCreateGroupDeduplicatesMembers(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())

	g, err := d.CreateGroup(context.Background(), "owner_1", "群組",
		[]string{"owner_1", "user_2", "user_2", " user_3 "}, nil)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if len(g.Members) != 3 {
		t.Fatalf("expected 3 deduplicated members, got %d", len(g.Members))
	}
	for _, member := range g.Members {
		if strings.TrimSpace(member.UserID) != member.UserID {
			t.Errorf("member ID not trimmed: %q", member.UserID)
		}
	}
}

func TestCreateDirect(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	first, err := d.CreateDirect(ctx, "user_1", "user_2")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	if first.Type != dbgroup.TypeDirect {
		t.Errorf("expected direct type, got %s", first.Type)
	}
	if len(first.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(first.Members))
	}

	// 重複創建回傳同一個會話
	second, err := d.CreateDirect(ctx, "user_2", "user_1")
	if err != nil {
		t.Fatalf("second CreateDirect failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing conversation %s, got %s", first.ID, second.ID)
	}

	// 與自己創建一對一會話不允許
	if _, err := d.CreateDirect(ctx, "user_1", "user_1"); !errors.Is(err, ErrEmptyMembership) {
		t.Fatalf("expected ErrEmptyMembership, got %v", err)
	}
}

func TestGetVisibility(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	g, err := d.CreateGroup(ctx, "owner_1", "群組", []string{"user_2"}, nil)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := d.Get(ctx, g.ID, "user_2"); err != nil {
		t.Errorf("member should see the group: %v", err)
	}
	if _, err := d.Get(ctx, g.ID, "stranger"); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
	if _, err := d.Get(ctx, "missing_id", "user_2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRename(t *testing.T) {
	repo := newMemGroupRepo()
	d := newTestDirectory(repo)
	ctx := context.Background()

	g, _ := d.CreateGroup(ctx, "owner_1", "舊名稱", []string{"user_2"}, nil)

	if err := d.Rename(ctx, g.ID, "user_2", "新名稱"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for non-owner, got %v", err)
	}
	if err := d.Rename(ctx, g.ID, "owner_1", ""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}

	if err := d.Rename(ctx, g.ID, "owner_1", "新名稱"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	updated, _ := d.Get(ctx, g.ID, "owner_1")
	if updated.Name != "新名稱" {
		t.Errorf("expected renamed group, got %s", updated.Name)
	}
}

func TestSetAvatar(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	g, _ := d.CreateGroup(ctx, "owner_1", "群組", []string{"user_2"}, nil)

	// 頭像上限比一般附件更嚴格
	err := d.SetAvatar(ctx, g.ID, "owner_1", AvatarRef{Size: 6 << 20})
	if !errors.Is(err, ErrAvatarTooLarge) {
		t.Fatalf("expected ErrAvatarTooLarge, got %v", err)
	}

	avatar := AvatarRef{URL: "http://localhost:9000/chat-attachments/a.png", ObjectKey: "a.png", Size: 1024}
	if err := d.SetAvatar(ctx, g.ID, "owner_1", avatar); err != nil {
		t.Fatalf("SetAvatar failed: %v", err)
	}
	updated, _ := d.Get(ctx, g.ID, "owner_1")
	if updated.AvatarURL != avatar.URL {
		t.Errorf("expected avatar URL %s, got %s", avatar.URL, updated.AvatarURL)
	}
}

func TestAddMember(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	g, _ := d.CreateGroup(ctx, "owner_1", "群組", []string{"user_2"}, nil)

	if err := d.AddMember(ctx, g.ID, "stranger", "user_3"); !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember for non-member actor, got %v", err)
	}

	if err := d.AddMember(ctx, g.ID, "user_2", "user_3"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	// 重複添加是冪等的
	if err := d.AddMember(ctx, g.ID, "owner_1", "user_3"); err != nil {
		t.Fatalf("repeated AddMember should be idempotent: %v", err)
	}

	ids, err := d.GetMemberIDs(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetMemberIDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 members, got %d: %v", len(ids), ids)
	}
}

func TestRemoveMember(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	g, _ := d.CreateGroup(ctx, "owner_1", "群組", []string{"user_2", "user_3"}, nil)

	// 一般成員不能移除別人
	if err := d.RemoveMember(ctx, g.ID, "user_2", "user_3"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}

	// 成員可以移除自己
	if err := d.RemoveMember(ctx, g.ID, "user_2", "user_2"); err != nil {
		t.Fatalf("self removal failed: %v", err)
	}

	// 擁有者可以移除任何人
	if err := d.RemoveMember(ctx, g.ID, "owner_1", "user_3"); err != nil {
		t.Fatalf("owner removal failed: %v", err)
	}

	ids, _ := d.GetMemberIDs(ctx, g.ID)
	if len(ids) != 1 || ids[0] != "owner_1" {
		t.Errorf("expected owner only, got %v", ids)
	}
}

func TestDeleteGroup(t *testing.T) {
	d := newTestDirectory(newMemGroupRepo())
	ctx := context.Background()

	g, _ := d.CreateGroup(ctx, "owner_1", "群組", []string{"user_2"}, nil)

	if err := d.Delete(ctx, g.ID, "user_2"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := d.Delete(ctx, g.ID, "owner_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := d.Get(ctx, g.ID, "owner_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
