package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "audit:user:"

	maxEventsPerUser = 20
)

// Store は認証イベントを Redis のリストに保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Append はイベントをユーザー別のリストに新しい順で保存し、件数と期間で切り詰めます。
// ユーザーに紐づかないイベントは保存しません。
func (s *Store) Append(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.UserID == "" {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := userKey(event.UserID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxEventsPerUser-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Recent はユーザーの直近のイベントを新しい順に最大 limit 件返します。
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	items, err := s.rdb.LRange(ctx, userKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			// 壊れた要素は読み飛ばす
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func userKey(userID string) string {
	return userKeyPrefix + userID
}
