// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// UserStore の種別です。
const (
	UserStoreMongo  = "mongo"
	UserStoreMemory = "memory"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	IP      string // バインドするアドレス（空なら全インターフェース）
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション設定
	SessionSecret         string        // セッションCookieの署名・暗号鍵の元になる秘密値
	SessionDuration       time.Duration // 発行からの固定有効期間
	SessionActiveDuration time.Duration // 最終アクセスからの延長期間
	SessionCookieSecure   bool          // Secure 属性を付けるか

	// パスワード設定
	BcryptCost int // bcrypt の work factor

	// ユーザーストア設定
	UserStore     string // mongo または memory
	MongoURI      string // MongoDB 接続URI
	MongoDatabase string // MongoDB データベース名

	// Redis（失効リスト・監査ログ）
	RedisURL       string        // 空の場合は失効リストと監査ログを無効化
	AuditRetention time.Duration // 監査イベントの保持期間

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り、空なら無効）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text または json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		IP:      getEnv("IP", ""),
		GinMode: getEnv("GIN_MODE", "debug"),

		// セッション設定
		SessionSecret:         getEnv("SESSION_SECRET", ""),
		SessionDuration:       getEnvAsMinutes("SESSION_DURATION_MINUTES", 10),
		SessionActiveDuration: getEnvAsMinutes("SESSION_ACTIVE_DURATION_MINUTES", 5),
		SessionCookieSecure:   getEnvAsBool("SESSION_COOKIE_SECURE", true),

		// パスワード設定
		BcryptCost: getEnvAsInt("BCRYPT_COST", 14),

		// ユーザーストア設定
		UserStore:     strings.ToLower(getEnv("USER_STORE", UserStoreMongo)),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "simple_auth"),

		// Redis
		RedisURL:       getEnv("REDIS_URL", ""),
		AuditRetention: getEnvAsMinutes("AUDIT_RETENTION_MINUTES", 24*60),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.SessionDuration <= 0 {
		return fmt.Errorf("SESSION_DURATION_MINUTES must be positive")
	}
	if c.SessionActiveDuration < 0 {
		return fmt.Errorf("SESSION_ACTIVE_DURATION_MINUTES must not be negative")
	}
	switch c.UserStore {
	case UserStoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when USER_STORE=mongo")
		}
	case UserStoreMemory:
	default:
		return fmt.Errorf("unknown USER_STORE: %s", c.UserStore)
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 characters in release mode")
		}
		if c.UserStore == UserStoreMemory {
			return fmt.Errorf("USER_STORE=memory is not allowed in release mode")
		}
		if !c.SessionCookieSecure {
			return fmt.Errorf("SESSION_COOKIE_SECURE must be true in release mode")
		}
	}

	return nil
}

// ListenAddr は IP と Port から待ち受けアドレスを組み立てます。
func (c *Config) ListenAddr() string {
	return c.IP + ":" + c.Port
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsMinutes は分単位の環境変数を time.Duration として取得します。
func getEnvAsMinutes(key string, defaultMinutes int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMinutes)) * time.Minute
}
