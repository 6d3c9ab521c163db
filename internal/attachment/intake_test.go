package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// memObjectStore 記錄呼叫的記憶體物件儲存
type memObjectStore struct {
	puts      []string
	removes   []string
	failAfter int // 第 N 次 Put 失敗（從 1 開始），0 表示不失敗
}

func (f *memObjectStore) Put(_ context.Context, objectName string, _ io.Reader, _ int64, _ string) error {
	if f.failAfter > 0 && len(f.puts)+1 >= f.failAfter {
		return errors.New("connection reset")
	}
	f.puts = append(f.puts, objectName)
	return nil
}

func (f *memObjectStore) Remove(_ context.Context, objectName string) error {
	f.removes = append(f.removes, objectName)
	return nil
}

func (f *memObjectStore) URL(objectName string) string {
	return "http://localhost:9000/chat-attachments/" + objectName
}

func newUpload(slot string, size int64) Upload {
	return Upload{
		Slot:        slot,
		FileName:    slot + ".bin",
		ContentType: "application/octet-stream",
		Size:        size,
		Reader:      strings.NewReader("data"),
	}
}

func TestIntakeStore(t *testing.T) {
	store := &memObjectStore{}
	intake := NewIntake(store, 25<<20)

	stored, err := intake.Store(context.Background(), "user_1", []Upload{
		newUpload(SlotImage, 1024),
		newUpload(SlotVideo, 2048),
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if len(stored) != 2 {
		t.Fatalf("expected 2 stored objects, got %d", len(stored))
	}
	if len(store.puts) != 2 {
		t.Errorf("expected 2 store calls, got %d", len(store.puts))
	}
	for _, obj := range stored {
		if obj.ID == "" || obj.ObjectKey == "" || obj.URL == "" {
			t.Errorf("stored object missing identifiers: %+v", obj)
		}
		if !strings.HasPrefix(obj.ObjectKey, "user_1/") {
			t.Errorf("object key not scoped to owner: %s", obj.ObjectKey)
		}
	}
}

func TestIntakeStoreValidation(t *testing.T) {
	testCases := []struct {
		name    string
		uploads []Upload
		wantErr error
	}{
		{"空請求", nil, ErrEmptyRequest},
		{"未知欄位", []Upload{newUpload("audio", 10)}, ErrUnknownSlot},
		{"重複欄位", []Upload{newUpload(SlotImage, 10), newUpload(SlotImage, 10)}, ErrTooManySlots},
		{"單檔超過上限", []Upload{newUpload(SlotFile, 26<<20)}, ErrPayloadTooLarge},
		{"總和超過上限", []Upload{
			newUpload(SlotImage, 13 << 20),
			newUpload(SlotVideo, 13 << 20),
		}, ErrPayloadTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memObjectStore{}
			intake := NewIntake(store, 25<<20)

			_, err := intake.Store(context.Background(), "user_1", tc.uploads)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			// 檢查失敗時不得有任何儲存層呼叫
			if len(store.puts) != 0 {
				t.Errorf("expected no store calls, got %d", len(store.puts))
			}
		})
	}
}

// 中途失敗時回滾所有已寫入的物件
func TestIntakeStoreRollback(t *testing.T) {
	store := &memObjectStore{failAfter: 3}
	intake := NewIntake(store, 25<<20)

	_, err := intake.Store(context.Background(), "user_1", []Upload{
		newUpload(SlotImage, 10),
		newUpload(SlotVideo, 10),
		newUpload(SlotFile, 10),
	})
	if !errors.Is(err, ErrStoreFailed) {
		t.Fatalf("expected ErrStoreFailed, got %v", err)
	}

	if len(store.removes) != 2 {
		t.Fatalf("expected 2 rollback removals, got %d", len(store.removes))
	}
	// 回滾的正是前兩個成功寫入的物件
	for i, key := range store.removes {
		if key != store.puts[i] {
			t.Errorf("rollback removed %s, expected %s", key, store.puts[i])
		}
	}
}

func TestIntakeRemove(t *testing.T) {
	store := &memObjectStore{}
	intake := NewIntake(store, 25<<20)

	stored, err := intake.Store(context.Background(), "user_1", []Upload{newUpload(SlotAvatar, 10)})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if err := intake.Remove(context.Background(), stored[0]); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(store.removes) != 1 || store.removes[0] != stored[0].ObjectKey {
		t.Errorf("expected removal of %s, got %v", stored[0].ObjectKey, store.removes)
	}
}
