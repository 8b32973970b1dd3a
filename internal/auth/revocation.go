package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "session:revoked:"

// Revoker は破棄済みセッションIDを記録し、再利用を拒否するための失効リストです。
type Revoker interface {
	// Revoke は sessionID を until まで失効扱いにします。
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// RedisRevocationList は失効リストを Redis に保存します。キーは until で自動的に消えます。
type RedisRevocationList struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisRevocationList は RedisRevocationList を作成します。
func NewRedisRevocationList(rdb *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{rdb: rdb, now: time.Now}
}

// Revoke は失効を記録します。
func (l *RedisRevocationList) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	ttl := until.Sub(l.now())
	if ttl <= 0 {
		return nil
	}
	return l.rdb.Set(ctx, revokedKey(sessionID), 1, ttl).Err()
}

// IsRevoked は失効済みかどうかを返します。
func (l *RedisRevocationList) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, revokedKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func revokedKey(sessionID string) string {
	return revokedKeyPrefix + sessionID
}

// MemoryRevocationList はプロセス内メモリの失効リストです。
type MemoryRevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationList は MemoryRevocationList を作成します。
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke は失効を記録します。
func (l *MemoryRevocationList) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, exp := range l.entries {
		if !now.Before(exp) {
			delete(l.entries, id)
		}
	}
	if now.Before(until) {
		l.entries[sessionID] = until
	}
	return nil
}

// IsRevoked は失効済みかどうかを返します。
func (l *MemoryRevocationList) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.entries[sessionID]
	if !ok {
		return false, nil
	}
	return l.now().Before(exp), nil
}
