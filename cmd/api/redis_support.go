package main

import (
	"context"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/simple-auth/internal/audit"
	"github.com/yourusername/simple-auth/internal/auth"
	"github.com/yourusername/simple-auth/internal/config"
)

// redisBacking は Redis に依存する部品（失効リストと監査ログ）をまとめます。
type redisBacking struct {
	client      *redis.Client
	revocations *auth.RedisRevocationList
	audit       *audit.Manager
	logger      *slog.Logger
}

func setupRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redisBacking, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	store := audit.NewStore(client, cfg.AuditRetention)
	manager, err := audit.NewManager(cfg.RedisURL, store, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	manager.StartWorkers()

	return &redisBacking{
		client:      client,
		revocations: auth.NewRedisRevocationList(client),
		audit:       manager,
		logger:      logger,
	}, nil
}

// Ping は /healthz 用の疎通確認です。
func (b *redisBacking) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close はワーカーを停止してから接続を閉じます。
func (b *redisBacking) Close() {
	b.audit.Shutdown()
	if err := b.client.Close(); err != nil {
		b.logger.Warn("failed to close redis client", "error", err)
	}
}
