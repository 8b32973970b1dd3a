package users

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore はプロセス内メモリに保存する Store 実装です。
// テストとローカル開発（USER_STORE=memory）で利用します。
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// Create はレコードを保存します。
func (s *MemoryStore) Create(ctx context.Context, user *User) (*User, error) {
	record, err := prepare(user, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[record.Email]; exists {
		return nil, ErrDuplicateEmail
	}
	// MongoStore と同じ形式の ID を採番する
	record.ID = bson.NewObjectID().Hex()
	s.byID[record.ID] = record
	s.byEmail[record.Email] = record.ID

	out := *record
	return &out, nil
}

// FindByEmail はメールアドレスで検索します。
func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.byID[id]
	return &out, nil
}

// FindByID は ID で検索します。
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *record
	return &out, nil
}
