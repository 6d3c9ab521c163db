package chatmsg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-backend/internal/platform/logger"
	dbchatmsg "chat-backend/internal/storage/database/chatmsg"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// 消息存儲錯誤
var (
	ErrEmptyContent     = errors.New("消息必須包含文字或附件")
	ErrUnknownMessage   = errors.New("消息不存在")
	ErrUnknownRecipient = errors.New("接收者不在消息的接收列表中")
	ErrInvalidStatus    = errors.New("未知的接收狀態")
	ErrNotMember        = errors.New("用戶不是會話成員")
	ErrNotSender        = errors.New("只有發送者可以刪除消息")
)

// MessageRepository 消息服務依賴的存儲接口
type MessageRepository interface {
	Create(ctx context.Context, message *dbchatmsg.Message) error
	GetByID(ctx context.Context, id string) (*dbchatmsg.Message, error)
	GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string, since, until *time.Time) ([]*dbchatmsg.Message, string, bool, error)
	SoftDelete(ctx context.Context, id string) error
	AdvanceRecipientStatus(ctx context.Context, messageID, userID string, rank int, status string) (bool, error)
	Pin(ctx context.Context, conversationID, messageID, userID string) (bool, error)
	Unpin(ctx context.Context, conversationID, messageID string) (bool, error)
	ListPinned(ctx context.Context, conversationID string) ([]*dbchatmsg.Message, error)
	GetUnreadCount(ctx context.Context, userID string, conversationID *string) (int, error)
	Search(ctx context.Context, conversationID, query string, limit int, cursor string) ([]*dbchatmsg.Message, string, bool, error)
}

// MemberSource 會話成員來源
// 成員集合在每次變更時重新查詢，成員可能在消息創建與派發之間變動
type MemberSource interface {
	GetMemberIDs(ctx context.Context, conversationID string) ([]string, error)
}

// ConversationTracker 會話最後消息摘要更新接口
type ConversationTracker interface {
	TouchLastMessage(ctx context.Context, groupID, preview string, at time.Time) error
}

// Notifier 事件通知接口，由派發層實作
type Notifier interface {
	MessageCreated(ctx context.Context, message *dbchatmsg.Message)
	StatusChanged(ctx context.Context, conversationID, messageID, userID, status string)
	PinChanged(ctx context.Context, conversationID, messageID, userID string, pinned bool)
	MessageDeleted(ctx context.Context, conversationID, messageID string)
}

// SendInput 發送消息的輸入
type SendInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Attachments    []dbchatmsg.Attachment
	ReplyTo        string
	ForwardFrom    string
}

// Service 消息服務
type Service struct {
	repo     MessageRepository
	members  MemberSource
	tracker  ConversationTracker
	notifier Notifier
}

// NewService 創建消息服務
func NewService(repo MessageRepository, members MemberSource, tracker ConversationTracker, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		members:  members,
		tracker:  tracker,
		notifier: notifier,
	}
}

// Send 創建消息
// 回覆或轉發引用無法解析時不阻塞發送，消息照常創建並標記 broken_reference
func (s *Service) Send(ctx context.Context, in SendInput) (*dbchatmsg.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 && in.ForwardFrom == "" {
		return nil, ErrEmptyContent
	}

	// 變更時查詢當前成員，不緩存
	memberIDs, err := s.members.GetMemberIDs(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !containsID(memberIDs, in.SenderID) {
		return nil, ErrNotMember
	}

	message := dbchatmsg.NewMessage()
	message.ConversationID = in.ConversationID
	message.SenderID = in.SenderID
	message.Content = content
	message.Type = in.Type
	if message.Type == "" {
		message.Type = "text"
	}
	message.Attachments = in.Attachments

	// 解析回覆引用：必須指向同一會話中的現存消息
	if in.ReplyTo != "" {
		replied, err := s.repo.GetByID(ctx, in.ReplyTo)
		if err != nil || replied.ConversationID != in.ConversationID {
			message.BrokenReference = true
		} else {
			message.ReplyToMessageID = in.ReplyTo
		}
	}

	// 解析轉發引用：原消息可以來自其他會話，內容複製成新消息
	if in.ForwardFrom != "" {
		original, err := s.repo.GetByID(ctx, in.ForwardFrom)
		if err != nil {
			message.BrokenReference = true
		} else {
			message.ForwardedFromMessageID = in.ForwardFrom
			if message.Content == "" {
				message.Content = original.Content
			}
			if len(message.Attachments) == 0 {
				message.Attachments = original.Attachments
			}
		}
	}

	if message.Content == "" && len(message.Attachments) == 0 {
		return nil, ErrEmptyContent
	}

	// 為每個當前成員初始化接收狀態，發送者自己直接標記為已讀
	now := time.Now().UTC()
	message.Recipients = make([]dbchatmsg.Recipient, 0, len(memberIDs))
	for _, userID := range memberIDs {
		status := dbchatmsg.StatusSent
		rank := dbchatmsg.RankSent
		if userID == in.SenderID {
			status = dbchatmsg.StatusRead
			rank = dbchatmsg.RankRead
		}
		message.Recipients = append(message.Recipients, dbchatmsg.Recipient{
			UserID:    userID,
			Status:    status,
			Rank:      rank,
			UpdatedAt: now,
		})
	}

	if err := s.repo.Create(ctx, &message); err != nil {
		return nil, fmt.Errorf("創建消息失敗: %w", err)
	}

	// 更新會話摘要，失敗不影響已寫入的消息
	if s.tracker != nil {
		if err := s.tracker.TouchLastMessage(ctx, in.ConversationID, preview(message.Content), message.CreatedAt); err != nil {
			logger.LogWarnf("更新會話摘要失敗 %s: %v", in.ConversationID, err)
		}
	}

	if s.notifier != nil {
		s.notifier.MessageCreated(ctx, &message)
	}

	logger.Info(ctx, "消息發送成功",
		logger.WithUserID(in.SenderID),
		logger.WithConversationID(in.ConversationID),
		logger.WithMessageID(message.ID),
		logger.WithAction("message_send"))

	return &message, nil
}

// List 列出會話中的消息（僅成員可見）
func (s *Service) List(ctx context.Context, conversationID, userID string, limit int, cursor string, since, until *time.Time) ([]*dbchatmsg.Message, string, bool, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, "", false, err
	}

	return s.repo.GetByConversationID(ctx, conversationID, limit, cursor, since, until)
}

// UpdateStatus 推進接收者狀態
// 狀態只能沿 sent -> delivered -> read 前進；遲到或重複的確認靜默吸收
func (s *Service) UpdateStatus(ctx context.Context, messageID, recipientID, status string) error {
	rank := dbchatmsg.StatusRank(status)
	if rank == 0 {
		return ErrInvalidStatus
	}

	advanced, err := s.repo.AdvanceRecipientStatus(ctx, messageID, recipientID, rank, status)
	if err != nil {
		return err
	}

	if !advanced {
		// 區分：消息不存在、接收者不存在、或狀態已不低於新狀態（無操作）
		message, err := s.repo.GetByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrUnknownMessage
			}
			return err
		}
		for _, r := range message.Recipients {
			if r.UserID == recipientID {
				return nil // 等級不低於新狀態，靜默無操作
			}
		}
		return ErrUnknownRecipient
	}

	// 只在實際推進時派發事件
	if s.notifier != nil {
		message, err := s.repo.GetByID(ctx, messageID)
		if err == nil {
			s.notifier.StatusChanged(ctx, message.ConversationID, messageID, recipientID, status)
		}
	}

	return nil
}

// MarkConversationRead 將會話中所有未讀消息標記為已讀
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string, limit int) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}

	messages, _, _, err := s.repo.GetByConversationID(ctx, conversationID, limit, "", nil, nil)
	if err != nil {
		return err
	}

	for _, message := range messages {
		for _, r := range message.Recipients {
			if r.UserID == userID && r.Rank < dbchatmsg.RankRead {
				if err := s.UpdateStatus(ctx, message.ID, userID, dbchatmsg.StatusRead); err != nil {
					return err
				}
				break
			}
		}
	}

	return nil
}

// Pin 置頂消息（重複置頂是冪等的無操作）
func (s *Service) Pin(ctx context.Context, conversationID, messageID, userID string) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}

	pinned, err := s.repo.Pin(ctx, conversationID, messageID, userID)
	if err != nil {
		return err
	}

	if !pinned {
		// 消息不存在或已置頂，前者是錯誤，後者是無操作
		if err := s.requireMessageIn(ctx, conversationID, messageID); err != nil {
			return err
		}
		return nil
	}

	if s.notifier != nil {
		s.notifier.PinChanged(ctx, conversationID, messageID, userID, true)
	}

	return nil
}

// Unpin 取消置頂（重複取消是冪等的無操作）
func (s *Service) Unpin(ctx context.Context, conversationID, messageID, userID string) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}

	unpinned, err := s.repo.Unpin(ctx, conversationID, messageID)
	if err != nil {
		return err
	}

	if !unpinned {
		if err := s.requireMessageIn(ctx, conversationID, messageID); err != nil {
			return err
		}
		return nil
	}

	if s.notifier != nil {
		s.notifier.PinChanged(ctx, conversationID, messageID, userID, false)
	}

	return nil
}

// ListPinned 列出會話中的置頂消息（最近置頂的在前）
func (s *Service) ListPinned(ctx context.Context, conversationID, userID string) ([]*dbchatmsg.Message, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	return s.repo.ListPinned(ctx, conversationID)
}

// Delete 軟刪除消息（僅發送者）
func (s *Service) Delete(ctx context.Context, messageID, userID string) error {
	message, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUnknownMessage
		}
		return err
	}

	if message.SenderID != userID {
		return ErrNotSender
	}

	if err := s.repo.SoftDelete(ctx, messageID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUnknownMessage
		}
		return err
	}

	if s.notifier != nil {
		s.notifier.MessageDeleted(ctx, message.ConversationID, messageID)
	}

	return nil
}

// UnreadCount 獲取用戶的未讀消息數量
func (s *Service) UnreadCount(ctx context.Context, userID string, conversationID *string) (int, error) {
	return s.repo.GetUnreadCount(ctx, userID, conversationID)
}

// Search 搜索會話中的消息（僅成員可用）
func (s *Service) Search(ctx context.Context, conversationID, userID, query string, limit int, cursor string) ([]*dbchatmsg.Message, string, bool, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, "", false, err
	}

	return s.repo.Search(ctx, conversationID, query, limit, cursor)
}

// requireMember 檢查用戶是否是會話成員
func (s *Service) requireMember(ctx context.Context, conversationID, userID string) error {
	memberIDs, err := s.members.GetMemberIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	if !containsID(memberIDs, userID) {
		return ErrNotMember
	}
	return nil
}

// requireMessageIn 檢查消息存在且屬於指定會話
func (s *Service) requireMessageIn(ctx context.Context, conversationID, messageID string) error {
	message, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUnknownMessage
		}
		return err
	}
	if message.ConversationID != conversationID {
		return ErrUnknownMessage
	}
	return nil
}

// containsID 檢查 ID 列表是否包含指定值
func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// preview 生成會話摘要用的消息預覽，按字元截斷避免切開多字節字元
func preview(content string) string {
	const maxPreview = 100
	count := 0
	for i := range content {
		if count == maxPreview {
			return content[:i]
		}
		count++
	}
	return content
}
