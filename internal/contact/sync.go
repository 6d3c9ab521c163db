package contact

import (
	"context"
	"errors"
	"fmt"

	"chat-backend/internal/constants"
	"chat-backend/internal/platform/logger"
	dbcontact "chat-backend/internal/storage/database/contact"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// 同步錯誤
var (
	ErrEmptyInput      = errors.New("聯絡人列表不能為空")
	ErrBatchTooLarge   = errors.New("聯絡人列表超過單次同步上限")
	ErrNoValidContacts = errors.New("沒有任何有效的聯絡人")
	ErrDuplicateKey    = errors.New("聯絡人批量寫入發生鍵值衝突")
)

// RawContact 客戶端上傳的原始聯絡人
type RawContact struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// SyncResult 同步結果
type SyncResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Repository 同步器依賴的存儲接口
type Repository interface {
	BulkUpsert(ctx context.Context, ownerID string, contacts []*dbcontact.Contact) (*dbcontact.BulkUpsertResult, error)
	ListByOwner(ctx context.Context, ownerID string, limit int, cursor string) ([]*dbcontact.Contact, string, bool, error)
}

// Synchronizer 聯絡人同步器
// 重複同步相同輸入除 updated_at 外不產生任何變化
type Synchronizer struct {
	repo         Repository
	normalizer   *Normalizer
	maxBatchSize int
}

// NewSynchronizer 創建同步器
func NewSynchronizer(repo Repository, normalizer *Normalizer, maxBatchSize int) *Synchronizer {
	if maxBatchSize <= 0 {
		maxBatchSize = constants.DefaultMaxSyncBatchSize
	}
	return &Synchronizer{
		repo:         repo,
		normalizer:   normalizer,
		maxBatchSize: maxBatchSize,
	}
}

// Sync 同步用戶的聯絡人列表
// 無效條目計入 rejected 並丟棄，不影響整批；全部無效則整批失敗
func (s *Synchronizer) Sync(ctx context.Context, ownerID string, raws []RawContact) (*SyncResult, error) {
	if len(raws) == 0 {
		return nil, ErrEmptyInput
	}
	if len(raws) > s.maxBatchSize {
		return nil, ErrBatchTooLarge
	}

	// 標準化並在批次內去重（後出現的覆蓋先出現的）
	rejected := 0
	order := make([]string, 0, len(raws))
	byPhone := make(map[string]*dbcontact.Contact, len(raws))
	for _, raw := range raws {
		phone, name, err := s.normalizer.Normalize(raw.Phone, raw.Name)
		if err != nil {
			rejected++
			continue
		}
		if _, seen := byPhone[phone]; !seen {
			order = append(order, phone)
		}
		byPhone[phone] = dbcontact.NewContact(ownerID, phone, name)
	}

	if len(byPhone) == 0 {
		return nil, ErrNoValidContacts
	}

	contacts := make([]*dbcontact.Contact, 0, len(byPhone))
	for _, phone := range order {
		contacts = append(contacts, byPhone[phone])
	}

	// 單一批量操作，整批成功或整批失敗
	result, err := s.repo.BulkUpsert(ctx, ownerID, contacts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("聯絡人批量寫入失敗: %w", err)
	}

	logger.Info(ctx, "聯絡人同步完成",
		logger.WithUserID(ownerID),
		logger.WithAction("contacts_sync"),
		logger.WithDetails(map[string]interface{}{
			"accepted": len(contacts),
			"rejected": rejected,
			"inserted": result.Inserted,
			"updated":  result.Updated,
		}))

	return &SyncResult{
		Accepted: len(contacts),
		Rejected: rejected,
	}, nil
}

// List 列出用戶的聯絡人
func (s *Synchronizer) List(ctx context.Context, ownerID string, limit int, cursor string) ([]*dbcontact.Contact, string, bool, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, cursor)
}
