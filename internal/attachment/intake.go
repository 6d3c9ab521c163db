package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"chat-backend/internal/constants"
	"chat-backend/internal/platform/logger"

	"github.com/google/uuid"
)

// 附件欄位名稱（每個欄位在單一請求中最多出現一次）
const (
	SlotImage  = "image"
	SlotVideo  = "video"
	SlotFile   = "file"
	SlotAvatar = "avatar"
)

// 附件接收錯誤
var (
	ErrEmptyRequest    = errors.New("請求中沒有任何附件")
	ErrUnknownSlot     = errors.New("未知的附件欄位")
	ErrTooManySlots    = errors.New("同一附件欄位出現多次")
	ErrPayloadTooLarge = errors.New("附件總大小超過上限")
	ErrStoreFailed     = errors.New("附件寫入物件儲存失敗")
)

// ObjectStore 物件儲存接口
type ObjectStore interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectName string) error
	URL(objectName string) string
}

// Upload 單一附件上傳請求
type Upload struct {
	Slot        string
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// StoredObject 儲存成功後回傳的穩定引用
type StoredObject struct {
	ID          string `json:"id"`
	Slot        string `json:"slot"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ObjectKey   string `json:"object_key"`
	URL         string `json:"url"`
}

// Intake 附件接收器
// 不做 MIME 類型過濾，內容信任邊界交由客戶端與物件儲存層
type Intake struct {
	store          ObjectStore
	maxUploadBytes int64
}

// NewIntake 創建附件接收器
func NewIntake(store ObjectStore, maxUploadBytes int64) *Intake {
	if maxUploadBytes <= 0 {
		maxUploadBytes = constants.DefaultMaxUploadBytes
	}
	return &Intake{
		store:          store,
		maxUploadBytes: maxUploadBytes,
	}
}

// MaxUploadBytes 回傳單一請求的總大小上限
func (i *Intake) MaxUploadBytes() int64 {
	return i.maxUploadBytes
}

// Store 接收一批附件並寫入物件儲存
// 大小與欄位檢查全部通過後才會呼叫儲存層；任一寫入失敗時回滾已寫入的物件
func (i *Intake) Store(ctx context.Context, ownerID string, uploads []Upload) ([]StoredObject, error) {
	if len(uploads) == 0 {
		return nil, ErrEmptyRequest
	}

	// 欄位檢查：只接受已知欄位，且每個欄位最多一個附件
	seen := make(map[string]bool, len(uploads))
	var total int64
	for _, u := range uploads {
		switch u.Slot {
		case SlotImage, SlotVideo, SlotFile, SlotAvatar:
		default:
			return nil, ErrUnknownSlot
		}
		if seen[u.Slot] {
			return nil, ErrTooManySlots
		}
		seen[u.Slot] = true
		total += u.Size
	}

	// 總大小上限檢查，必須在任何儲存層呼叫之前
	if total > i.maxUploadBytes {
		return nil, ErrPayloadTooLarge
	}

	stored := make([]StoredObject, 0, len(uploads))
	for _, u := range uploads {
		objectKey := buildObjectKey(ownerID, u.Slot, u.FileName)

		if err := i.store.Put(ctx, objectKey, u.Reader, u.Size, u.ContentType); err != nil {
			// 整個請求全部成功或全部失敗，回滾已寫入的物件
			i.rollback(ctx, stored)
			logger.Error(ctx, fmt.Sprintf("附件寫入失敗: %v", err),
				logger.WithUserID(ownerID),
				logger.WithAction("attachment_store"))
			return nil, ErrStoreFailed
		}

		stored = append(stored, StoredObject{
			ID:          uuid.New().String(),
			Slot:        u.Slot,
			FileName:    u.FileName,
			ContentType: u.ContentType,
			Size:        u.Size,
			ObjectKey:   objectKey,
			URL:         i.store.URL(objectKey),
		})
	}

	return stored, nil
}

// Remove 刪除已儲存的附件
func (i *Intake) Remove(ctx context.Context, obj StoredObject) error {
	return i.store.Remove(ctx, obj.ObjectKey)
}

// rollback 回滾已寫入的物件，失敗只記錄日誌
func (i *Intake) rollback(ctx context.Context, stored []StoredObject) {
	for _, obj := range stored {
		if err := i.store.Remove(ctx, obj.ObjectKey); err != nil {
			logger.LogWarnf("回滾附件失敗 %s: %v", obj.ObjectKey, err)
		}
	}
}

// buildObjectKey 生成物件儲存鍵
func buildObjectKey(ownerID, slot, fileName string) string {
	return fmt.Sprintf("%s/%s/%s%s", ownerID, slot, uuid.New().String(), filepath.Ext(fileName))
}
