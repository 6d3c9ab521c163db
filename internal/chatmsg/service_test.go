package chatmsg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	dbchatmsg "chat-backend/internal/storage/database/chatmsg"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// memMessageRepo 記憶體消息存儲，語義與 MongoDB 實作對齊
type memMessageRepo struct {
	messages map[string]*dbchatmsg.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[string]*dbchatmsg.Message)}
}

func (m *memMessageRepo) Create(_ context.Context, message *dbchatmsg.Message) error {
	copied := *message
	m.messages[message.ID] = &copied
	return nil
}

func (m *memMessageRepo) GetByID(_ context.Context, id string) (*dbchatmsg.Message, error) {
	message, ok := m.messages[id]
	if !ok || message.Deleted {
		return nil, mongo.ErrNoDocuments
	}
	copied := *message
	return &copied, nil
}

func (m *memMessageRepo) GetByConversationID(_ context.Context, conversationID string, _ int, _ string, _, _ *time.Time) ([]*dbchatmsg.Message, string, bool, error) {
	var out []*dbchatmsg.Message
	for _, message := range m.messages {
		if message.ConversationID == conversationID && !message.Deleted {
			copied := *message
			out = append(out, &copied)
		}
	}
	return out, "", false, nil
}

func (m *memMessageRepo) SoftDelete(_ context.Context, id string) error {
	message, ok := m.messages[id]
	if !ok || message.Deleted {
		return mongo.ErrNoDocuments
	}
	message.Deleted = true
	return nil
}

func (m *memMessageRepo) AdvanceRecipientStatus(_ context.Context, messageID, userID string, rank int, status string) (bool, error) {
	message, ok := m.messages[messageID]
	if !ok || message.Deleted {
		return false, nil
	}
	for i := range message.Recipients {
		r := &message.Recipients[i]
		if r.UserID == userID && r.Rank < rank {
			r.Status = status
			r.Rank = rank
			r.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (m *memMessageRepo) Pin(_ context.Context, conversationID, messageID, userID string) (bool, error) {
	message, ok := m.messages[messageID]
	if !ok || message.Deleted || message.ConversationID != conversationID || message.Pinned {
		return false, nil
	}
	now := time.Now().UTC()
	message.Pinned = true
	message.PinnedAt = &now
	message.PinHistory = append(message.PinHistory, dbchatmsg.PinRecord{UserID: userID, PinnedAt: now})
	return true, nil
}

func (m *memMessageRepo) Unpin(_ context.Context, conversationID, messageID string) (bool, error) {
	message, ok := m.messages[messageID]
	if !ok || message.Deleted || message.ConversationID != conversationID || !message.Pinned {
		return false, nil
	}
	message.Pinned = false
	message.PinnedAt = nil
	return true, nil
}

func (m *memMessageRepo) ListPinned(_ context.Context, conversationID string) ([]*dbchatmsg.Message, error) {
	var out []*dbchatmsg.Message
	for _, message := range m.messages {
		if message.ConversationID == conversationID && message.Pinned && !message.Deleted {
			copied := *message
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memMessageRepo) GetUnreadCount(_ context.Context, userID string, conversationID *string) (int, error) {
	count := 0
	for _, message := range m.messages {
		if message.Deleted {
			continue
		}
		if conversationID != nil && message.ConversationID != *conversationID {
			continue
		}
		for _, r := range message.Recipients {
			if r.UserID == userID && r.Rank < dbchatmsg.RankRead {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *memMessageRepo) Search(_ context.Context, conversationID, _ string, _ int, _ string) ([]*dbchatmsg.Message, string, bool, error) {
	return nil, "", false, nil
}

// fixedMembers 固定成員來源
type fixedMembers struct {
	ids []string
}

func (f *fixedMembers) GetMemberIDs(_ context.Context, _ string) ([]string, error) {
	return f.ids, nil
}

// recordingNotifier 記錄派發事件
type recordingNotifier struct {
	created []string
	status  []string
	pins    []string
	deleted []string
}

func (n *recordingNotifier) MessageCreated(_ context.Context, message *dbchatmsg.Message) {
	n.created = append(n.created, message.ID)
}

func (n *recordingNotifier) StatusChanged(_ context.Context, _, messageID, _, status string) {
	n.status = append(n.status, messageID+":"+status)
}

func (n *recordingNotifier) PinChanged(_ context.Context, _, messageID, _ string, pinned bool) {
	if pinned {
		n.pins = append(n.pins, "pin:"+messageID)
	} else {
		n.pins = append(n.pins, "unpin:"+messageID)
	}
}

func (n *recordingNotifier) MessageDeleted(_ context.Context, _, messageID string) {
	n.deleted = append(n.deleted, messageID)
}

// noopTracker 不做任何事的會話摘要更新
type noopTracker struct{}

func (noopTracker) TouchLastMessage(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

const testConversation = "68b0a1b2c3d4e5f6a7b8c9d0"

func newTestService(repo MessageRepository, members []string, notifier Notifier) *Service {
	return NewService(repo, &fixedMembers{ids: members}, noopTracker{}, notifier)
}

func TestSend(t *testing.T) {
	repo := newMemMessageRepo()
	notifier := &recordingNotifier{}
	s := newTestService(repo, []string{"alice", "bob", "carol"}, notifier)

	message, err := s.Send(context.Background(), SendInput{
		ConversationID: testConversation,
		SenderID:       "alice",
		Content:        "大家好",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if message.Type != "text" {
		t.Errorf("expected default type text, got %s", message.Type)
	}
	if len(message.Recipients) != 3 {
		t.Fatalf("expected recipient entry per member, got %d", len(message.Recipients))
	}
	// 發送者自己的接收狀態直接是已讀，其餘是已發送
	for _, r := range message.Recipients {
		want := dbchatmsg.StatusSent
		if r.UserID == "alice" {
			want = dbchatmsg.StatusRead
		}
		if r.Status != want {
			t.Errorf("recipient %s: expected %s, got %s", r.UserID, want, r.Status)
		}
	}
	if len(notifier.created) != 1 || notifier.created[0] != message.ID {
		t.Errorf("expected created event for %s, got %v", message.ID, notifier.created)
	}
}

func TestSendValidation(t *testing.T) {
	s := newTestService(newMemMessageRepo(), []string{"alice"}, nil)
	ctx := context.Background()

	// 無文字也無附件
	_, err := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}

	// 純空白內容
	_, err = s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "   "})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent for whitespace, got %v", err)
	}

	// 非成員不能發送
	_, err = s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "stranger", Content: "hi"})
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
}

func TestSendReply(t *testing.T) {
	repo := newMemMessageRepo()
	s := newTestService(repo, []string{"alice", "bob"}, nil)
	ctx := context.Background()

	original, err := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "原始消息"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reply, err := s.Send(ctx, SendInput{
		ConversationID: testConversation,
		SenderID:       "bob",
		Content:        "回覆",
		ReplyTo:        original.ID,
	})
	if err != nil {
		t.Fatalf("reply Send failed: %v", err)
	}
	if reply.ReplyToMessageID != original.ID || reply.BrokenReference {
		t.Errorf("expected resolved reply linkage, got %+v", reply)
	}

	// 引用不存在的消息：照常創建但標記 broken_reference
	broken, err := s.Send(ctx, SendInput{
		ConversationID: testConversation,
		SenderID:       "bob",
		Content:        "回覆幽靈",
		ReplyTo:        "missing_id",
	})
	if err != nil {
		t.Fatalf("broken reply Send failed: %v", err)
	}
	if !broken.BrokenReference || broken.ReplyToMessageID != "" {
		t.Errorf("expected broken reference marker, got %+v", broken)
	}
}

// 回覆引用必須指向同一會話的消息
func TestSendReplyCrossConversation(t *testing.T) {
	repo := newMemMessageRepo()
	other := dbchatmsg.NewMessage()
	other.ConversationID = "68b0ffffffffffffffffffff"
	other.Content = "別的會話"
	repo.messages[other.ID] = &other

	s := newTestService(repo, []string{"alice"}, nil)

	reply, err := s.Send(context.Background(), SendInput{
		ConversationID: testConversation,
		SenderID:       "alice",
		Content:        "跨會話回覆",
		ReplyTo:        other.ID,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !reply.BrokenReference {
		t.Error("expected broken reference for cross-conversation reply")
	}
}

func TestSendForward(t *testing.T) {
	repo := newMemMessageRepo()
	original := dbchatmsg.NewMessage()
	original.ConversationID = "68b0ffffffffffffffffffff"
	original.Content = "轉發源內容"
	original.Attachments = []dbchatmsg.Attachment{{ID: "att_1", FileName: "photo.jpg"}}
	repo.messages[original.ID] = &original

	s := newTestService(repo, []string{"alice"}, nil)
	ctx := context.Background()

	// 轉發可以跨會話，空內容時複製原消息
	forwarded, err := s.Send(ctx, SendInput{
		ConversationID: testConversation,
		SenderID:       "alice",
		ForwardFrom:    original.ID,
	})
	if err != nil {
		t.Fatalf("forward Send failed: %v", err)
	}
	if forwarded.ForwardedFromMessageID != original.ID {
		t.Errorf("expected forward linkage, got %+v", forwarded)
	}
	if forwarded.Content != original.Content {
		t.Errorf("expected copied content, got %q", forwarded.Content)
	}
	if len(forwarded.Attachments) != 1 {
		t.Errorf("expected copied attachments, got %d", len(forwarded.Attachments))
	}

	// 轉發源不存在且沒有自帶內容：broken_reference 也救不了空消息
	_, err = s.Send(ctx, SendInput{
		ConversationID: testConversation,
		SenderID:       "alice",
		ForwardFrom:    "missing_id",
	})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}

	// 轉發源不存在但自帶內容：照常創建並標記 broken_reference
	broken, err := s.Send(ctx, SendInput{
		ConversationID: testConversation,
		SenderID:       "alice",
		Content:        "帶內容的轉發",
		ForwardFrom:    "missing_id",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !broken.BrokenReference {
		t.Error("expected broken reference marker")
	}
}

func TestUpdateStatus(t *testing.T) {
	repo := newMemMessageRepo()
	notifier := &recordingNotifier{}
	s := newTestService(repo, []string{"alice", "bob"}, notifier)
	ctx := context.Background()

	message, err := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// sent -> delivered -> read 正常推進
	if err := s.UpdateStatus(ctx, message.ID, "bob", dbchatmsg.StatusDelivered); err != nil {
		t.Fatalf("delivered failed: %v", err)
	}
	if err := s.UpdateStatus(ctx, message.ID, "bob", dbchatmsg.StatusRead); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	stored, _ := repo.GetByID(ctx, message.ID)
	for _, r := range stored.Recipients {
		if r.UserID == "bob" && r.Status != dbchatmsg.StatusRead {
			t.Errorf("expected read, got %s", r.Status)
		}
	}
	if len(notifier.status) != 2 {
		t.Errorf("expected 2 status events, got %v", notifier.status)
	}
}

// 狀態只能前進：遲到或重複的確認靜默吸收，不派發事件
func TestUpdateStatusMonotone(t *testing.T) {
	repo := newMemMessageRepo()
	notifier := &recordingNotifier{}
	s := newTestService(repo, []string{"alice", "bob"}, notifier)
	ctx := context.Background()

	message, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "hi"})

	if err := s.UpdateStatus(ctx, message.ID, "bob", dbchatmsg.StatusRead); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	// 遲到的 delivered 不得回退狀態也不得報錯
	if err := s.UpdateStatus(ctx, message.ID, "bob", dbchatmsg.StatusDelivered); err != nil {
		t.Fatalf("late delivered should be silent no-op: %v", err)
	}
	// 重複的 read 同樣靜默
	if err := s.UpdateStatus(ctx, message.ID, "bob", dbchatmsg.StatusRead); err != nil {
		t.Fatalf("repeated read should be silent no-op: %v", err)
	}

	stored, _ := repo.GetByID(ctx, message.ID)
	for _, r := range stored.Recipients {
		if r.UserID == "bob" && r.Status != dbchatmsg.StatusRead {
			t.Errorf("status regressed to %s", r.Status)
		}
	}
	if len(notifier.status) != 1 {
		t.Errorf("no-op must not dispatch events, got %v", notifier.status)
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	repo := newMemMessageRepo()
	s := newTestService(repo, []string{"alice", "bob"}, nil)
	ctx := context.Background()

	message, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "hi"})

	if err := s.UpdateStatus(ctx, message.ID, "bob", "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if err := s.UpdateStatus(ctx, "missing_id", "bob", dbchatmsg.StatusRead); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
	if err := s.UpdateStatus(ctx, message.ID, "stranger", dbchatmsg.StatusRead); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}
}

func TestPin(t *testing.T) {
	repo := newMemMessageRepo()
	notifier := &recordingNotifier{}
	s := newTestService(repo, []string{"alice", "bob"}, notifier)
	ctx := context.Background()

	message, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "公告"})

	if err := s.Pin(ctx, testConversation, message.ID, "bob"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	// 重複置頂是冪等的無操作，不產生事件也不追加歷史
	if err := s.Pin(ctx, testConversation, message.ID, "alice"); err != nil {
		t.Fatalf("repeated Pin should be idempotent: %v", err)
	}

	stored, _ := repo.GetByID(ctx, message.ID)
	if !stored.Pinned || stored.PinnedAt == nil {
		t.Error("expected pinned message")
	}
	if len(stored.PinHistory) != 1 {
		t.Errorf("expected single pin history record, got %d", len(stored.PinHistory))
	}
	if stored.PinHistory[0].UserID != "bob" {
		t.Errorf("expected pin attributed to bob, got %s", stored.PinHistory[0].UserID)
	}
	if len(notifier.pins) != 1 {
		t.Errorf("expected single pin event, got %v", notifier.pins)
	}

	// 置頂不存在的消息是錯誤，不是無操作
	if err := s.Pin(ctx, testConversation, "missing_id", "alice"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestUnpin(t *testing.T) {
	repo := newMemMessageRepo()
	notifier := &recordingNotifier{}
	s := newTestService(repo, []string{"alice"}, notifier)
	ctx := context.Background()

	message, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "公告"})

	// 取消未置頂的消息是冪等的無操作
	if err := s.Unpin(ctx, testConversation, message.ID, "alice"); err != nil {
		t.Fatalf("Unpin of unpinned message should be no-op: %v", err)
	}

	if err := s.Pin(ctx, testConversation, message.ID, "alice"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	if err := s.Unpin(ctx, testConversation, message.ID, "alice"); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}

	stored, _ := repo.GetByID(ctx, message.ID)
	if stored.Pinned || stored.PinnedAt != nil {
		t.Error("expected unpinned message")
	}
	// 歷史記錄不因取消置頂而回寫
	if len(stored.PinHistory) != 1 {
		t.Errorf("pin history must survive unpin, got %d records", len(stored.PinHistory))
	}
}

// 多條消息可以同時置頂
func TestMultiplePins(t *testing.T) {
	repo := newMemMessageRepo()
	s := newTestService(repo, []string{"alice"}, nil)
	ctx := context.Background()

	first, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "一"})
	second, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "二"})

	if err := s.Pin(ctx, testConversation, first.ID, "alice"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	if err := s.Pin(ctx, testConversation, second.ID, "alice"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	pinned, err := s.ListPinned(ctx, testConversation, "alice")
	if err != nil {
		t.Fatalf("ListPinned failed: %v", err)
	}
	if len(pinned) != 2 {
		t.Errorf("expected 2 pinned messages, got %d", len(pinned))
	}
}

func TestDelete(t *testing.T) {
	repo := newMemMessageRepo()
	notifier := &recordingNotifier{}
	s := newTestService(repo, []string{"alice", "bob"}, notifier)
	ctx := context.Background()

	message, _ := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "刪我"})

	// 只有發送者可以刪除
	if err := s.Delete(ctx, message.ID, "bob"); !errors.Is(err, ErrNotSender) {
		t.Errorf("expected ErrNotSender, got %v", err)
	}

	if err := s.Delete(ctx, message.ID, "alice"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.repo.GetByID(ctx, message.ID); !errors.Is(err, mongo.ErrNoDocuments) {
		t.Error("soft-deleted message must be excluded from reads")
	}
	if len(notifier.deleted) != 1 {
		t.Errorf("expected delete event, got %v", notifier.deleted)
	}

	// 刪除不存在的消息
	if err := s.Delete(ctx, "missing_id", "alice"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestMarkConversationRead(t *testing.T) {
	repo := newMemMessageRepo()
	s := newTestService(repo, []string{"alice", "bob"}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Send(ctx, SendInput{ConversationID: testConversation, SenderID: "alice", Content: "msg"}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	count, _ := s.UnreadCount(ctx, "bob", nil)
	if count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	if err := s.MarkConversationRead(ctx, testConversation, "bob", 100); err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}

	count, _ = s.UnreadCount(ctx, "bob", nil)
	if count != 0 {
		t.Errorf("expected 0 unread after mark, got %d", count)
	}

	// 發送者自己的消息從不計入未讀
	count, _ = s.UnreadCount(ctx, "alice", nil)
	if count != 0 {
		t.Errorf("sender's own messages counted as unread: %d", count)
	}
}

func TestListRequiresMembership(t *testing.T) {
	s := newTestService(newMemMessageRepo(), []string{"alice"}, nil)

	_, _, _, err := s.List(context.Background(), testConversation, "stranger", 20, "", nil, nil)
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("expected ErrNotMember, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	short := "你好"
	if got := preview(short); got != short {
		t.Errorf("short content altered: %q", got)
	}

	// 多字節內容截斷後必須仍是合法 UTF-8
	long := strings.Repeat("訊", 200)
	got := preview(long)
	if !utf8.ValidString(got) {
		t.Errorf("preview produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 100 {
		t.Errorf("expected 100 runes, got %d", n)
	}

	ascii := strings.Repeat("a", 150)
	if got := preview(ascii); len(got) != 100 {
		t.Errorf("expected 100 bytes for ASCII content, got %d", len(got))
	}
}
