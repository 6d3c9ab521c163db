package contact

import (
	"context"
	"errors"
	"testing"

	dbcontact "chat-backend/internal/storage/database/contact"
)

// fakeContactRepo 記錄呼叫的記憶體存儲
type fakeContactRepo struct {
	calls   int
	last    []*dbcontact.Contact
	err     error
	listOut []*dbcontact.Contact
}

func (f *fakeContactRepo) BulkUpsert(_ context.Context, _ string, contacts []*dbcontact.Contact) (*dbcontact.BulkUpsertResult, error) {
	f.calls++
	f.last = contacts
	if f.err != nil {
		return nil, f.err
	}
	return &dbcontact.BulkUpsertResult{Inserted: int64(len(contacts))}, nil
}

func (f *fakeContactRepo) ListByOwner(_ context.Context, _ string, _ int, _ string) ([]*dbcontact.Contact, string, bool, error) {
	return f.listOut, "", false, nil
}

func newTestSynchronizer(repo Repository) *Synchronizer {
	return NewSynchronizer(repo, NewNormalizer("+84", "Unknown"), 100)
}

func TestSync(t *testing.T) {
	repo := &fakeContactRepo{}
	s := newTestSynchronizer(repo)

	result, err := s.Sync(context.Background(), "user_1", []RawContact{
		{Phone: "+84912345678", Name: "Alice"},
		{Phone: "0987654321", Name: "Bob"},
		{Phone: "not-a-phone", Name: "Carol"},
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Accepted != 2 {
		t.Errorf("expected 2 accepted, got %d", result.Accepted)
	}
	if result.Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", result.Rejected)
	}
	if repo.calls != 1 {
		t.Errorf("expected a single bulk write, got %d", repo.calls)
	}
}

// 批次內重複號碼只寫入一次，後出現的名稱覆蓋先出現的
func TestSyncDeduplicatesWithinBatch(t *testing.T) {
	repo := &fakeContactRepo{}
	s := newTestSynchronizer(repo)

	result, err := s.Sync(context.Background(), "user_1", []RawContact{
		{Phone: "0912345678", Name: "Old Name"},
		{Phone: "+84912345678", Name: "New Name"},
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Accepted != 1 {
		t.Errorf("expected 1 accepted after dedupe, got %d", result.Accepted)
	}
	if len(repo.last) != 1 {
		t.Fatalf("expected 1 contact written, got %d", len(repo.last))
	}
	if repo.last[0].Name != "New Name" {
		t.Errorf("expected later name to win, got %s", repo.last[0].Name)
	}
	if repo.last[0].Phone != "+84912345678" {
		t.Errorf("expected canonical phone, got %s", repo.last[0].Phone)
	}
}

func TestSyncValidation(t *testing.T) {
	testCases := []struct {
		name    string
		input   []RawContact
		wantErr error
	}{
		{"空列表", nil, ErrEmptyInput},
		{"全部無效", []RawContact{{Phone: "abc"}, {Phone: "123"}}, ErrNoValidContacts},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeContactRepo{}
			s := newTestSynchronizer(repo)

			_, err := s.Sync(context.Background(), "user_1", tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if repo.calls != 0 {
				t.Errorf("expected no store call, got %d", repo.calls)
			}
		})
	}
}

func TestSyncBatchTooLarge(t *testing.T) {
	repo := &fakeContactRepo{}
	s := NewSynchronizer(repo, NewNormalizer("+84", "Unknown"), 2)

	_, err := s.Sync(context.Background(), "user_1", []RawContact{
		{Phone: "0912345678"},
		{Phone: "0912345679"},
		{Phone: "0912345680"},
	})
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no store call, got %d", repo.calls)
	}
}

// 存儲層失敗時整批失敗，不回傳部分結果
func TestSyncStoreFailure(t *testing.T) {
	repo := &fakeContactRepo{err: errors.New("write concern error")}
	s := newTestSynchronizer(repo)

	result, err := s.Sync(context.Background(), "user_1", []RawContact{
		{Phone: "0912345678", Name: "Alice"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if result != nil {
		t.Errorf("expected nil result on failure, got %+v", result)
	}
}
