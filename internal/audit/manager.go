package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/samber/oops"
)

const (
	taskTypeEvent = "audit:event"
	queueName     = "audit"
)

// Recorder は認証イベントを記録します。
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// History はユーザーの直近の認証イベントを返します。
type History interface {
	Recent(ctx context.Context, userID string, limit int) ([]Event, error)
}

// NopRecorder は何も記録しない Recorder です。監査ログ無効時に使います。
type NopRecorder struct{}

// Record は何もしません。
func (NopRecorder) Record(ctx context.Context, event Event) error { return nil }

type eventStore interface {
	Append(ctx context.Context, event *Event) error
	Recent(ctx context.Context, userID string, limit int) ([]Event, error)
}

// Manager はイベントをキューに投入し、ワーカーで Store に書き込みます。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  eventStore
	logger *slog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, store *Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		logger: logger,
	}
	mux.HandleFunc(taskTypeEvent, manager.handleEventTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Warn("failed to close asynq client", "error", err)
	}
}

// Record はイベントをキューに投入します。ID と発生時刻が未設定なら補完します。
// 履歴はユーザー単位でしか参照されないため、UserID の無いイベントは捨てます。
func (m *Manager) Record(ctx context.Context, event Event) error {
	if event.Kind == "" {
		return oops.Code("AUDIT_ENQUEUE_FAILED").Errorf("event kind is required")
	}
	if event.UserID == "" {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return oops.Code("AUDIT_ENQUEUE_FAILED").Wrap(err)
	}

	task := asynq.NewTask(taskTypeEvent, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return oops.Code("AUDIT_ENQUEUE_FAILED").
			With("kind", event.Kind).
			Wrap(err)
	}
	return nil
}

// Recent は Store から直近のイベントを取得します。
func (m *Manager) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	return m.store.Recent(ctx, userID, limit)
}

func (m *Manager) handleEventTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		// 再試行しても直らないのでスキップする
		return fmt.Errorf("invalid audit payload: %v: %w", err, asynq.SkipRetry)
	}
	if event.Kind == "" {
		return fmt.Errorf("missing kind in payload: %w", asynq.SkipRetry)
	}
	return m.store.Append(ctx, &event)
}
