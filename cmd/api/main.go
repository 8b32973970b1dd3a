// Package main はWebサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/yourusername/simple-auth/internal/auth"
	"github.com/yourusername/simple-auth/internal/config"
	"github.com/yourusername/simple-auth/internal/logging"
	"github.com/yourusername/simple-auth/internal/observability"
	"github.com/yourusername/simple-auth/internal/users"
	"github.com/yourusername/simple-auth/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]web.HealthCheck{}

	// ユーザーストア
	userStore, mongoClient, err := setupUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		defer disconnectMongo(mongoClient, logger)
		checks["mongo"] = pingMongo(mongoClient)
	}

	// Redis（失効リストと監査ログ）は REDIS_URL が設定されている場合のみ有効
	var sessionOpts []auth.SessionOption
	deps := web.Deps{
		Users:   userStore,
		Hasher:  auth.NewBcryptHasher(cfg.BcryptCost),
		Metrics: observability.NewMetrics(),
		Logger:  logger,
		Checks:  checks,
	}
	if cfg.RedisURL != "" {
		backing, err := setupRedis(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer backing.Close()
		sessionOpts = append(sessionOpts, auth.WithRevoker(backing.revocations))
		deps.Recorder = backing.audit
		deps.History = backing.audit
		checks["redis"] = backing.Ping
	} else {
		// 単一プロセス前提でメモリ上の失効リストを使う
		sessionOpts = append(sessionOpts, auth.WithRevoker(auth.NewMemoryRevocationList()))
		logger.Warn("REDIS_URL is not set; revocations are kept in memory and audit history is disabled")
	}

	// セッション
	secret := cfg.SessionSecret
	if secret == "" {
		// release モードでは config.Validate で弾かれるため開発時のみ到達する
		secret = uuid.NewString() + uuid.NewString()
		logger.Warn("SESSION_SECRET is not set; using an ephemeral secret, sessions will not survive restarts")
	}
	sessionManager := auth.NewSessionManager(auth.SessionPolicy{
		Duration:       cfg.SessionDuration,
		ActiveDuration: cfg.SessionActiveDuration,
	}, cfg.SessionCookieSecure, logger, sessionOpts...)
	deps.Sessions = sessionManager

	cookieStore, err := auth.NewCookieStore(secret)
	if err != nil {
		return err
	}
	cookieStore.Options(sessionManager.CookieOptions())

	tmpl, err := web.LoadTemplates()
	if err != nil {
		return err
	}

	// ルーターの初期化
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger))
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		router.Use(cors.New(corsConfig))
	}
	router.Use(sessions.Sessions(auth.SessionCookieName, cookieStore))
	router.SetHTMLTemplate(tmpl)

	handler := web.NewHandler(deps)
	handler.Routes(router, auth.NewGate(sessionManager, userStore, logger, auth.WithErrorPage(handler.RenderError)))

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr, "mode", cfg.GinMode, "user_store", cfg.UserStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// setupUserStore は USER_STORE に応じてユーザーストアを用意します。
// memory の場合 *mongo.Client は nil です。
func setupUserStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (users.Store, *mongo.Client, error) {
	if cfg.UserStore == config.UserStoreMemory {
		logger.Warn("using in-memory user store; registrations are lost on restart")
		return users.NewMemoryStore(), nil, nil
	}

	client, err := users.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}

	store := users.NewMongoStore(client.Database(cfg.MongoDatabase))
	if err := store.EnsureIndexes(ctx); err != nil {
		disconnectMongo(client, logger)
		return nil, nil, err
	}
	logger.Info("connected to mongo", "database", cfg.MongoDatabase)
	return store, client, nil
}

func disconnectMongo(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("failed to disconnect mongo", "error", err)
	}
}

// pingMongo は /healthz 用の疎通確認です。
func pingMongo(client *mongo.Client) web.HealthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}
