package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/simple-auth/internal/logging"
	"github.com/yourusername/simple-auth/internal/users"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// LoginPath は未認証時のリダイレクト先です。
const LoginPath = "/login"

// 利用者に表示するエラーメッセージです。
const (
	MsgGeneric     = "Something went wrong. Please try again."
	MsgFormExpired = "Your form has expired. Please go back and try again."
)

// ErrorRenderer は利用者向けのエラー応答を書き込みます。
type ErrorRenderer func(c *gin.Context, status int, message string)

// PlainError はテキストでエラーを返す ErrorRenderer です。
func PlainError(c *gin.Context, status int, message string) {
	c.String(status, message)
}

// Gate は保護されたルートへのアクセスをセッションで制御します。
type Gate struct {
	sessions    *SessionManager
	users       users.Store
	logger      *slog.Logger
	renderError ErrorRenderer
}

// GateOption は Gate の任意設定です。
type GateOption func(*Gate)

// WithErrorPage はストア障害時のエラー応答を差し替えます。
func WithErrorPage(render ErrorRenderer) GateOption {
	return func(g *Gate) {
		g.renderError = render
	}
}

// NewGate は Gate を作成します。
func NewGate(sessions *SessionManager, store users.Store, logger *slog.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		sessions:    sessions,
		users:       store,
		logger:      logger,
		renderError: PlainError,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireSession は有効なセッションとユーザーが無ければ /login にリダイレクトするミドルウェアです。
func (g *Gate) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := g.sessions.Validate(c)
		if err != nil {
			redirectToLogin(c)
			return
		}

		user, err := g.users.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				// ユーザーが消えたセッションは未認証として扱う
				if _, destroyErr := g.sessions.Destroy(c); destroyErr != nil {
					logging.LogError(g.logger, "failed to destroy orphaned session", destroyErr)
				}
				redirectToLogin(c)
				return
			}
			logging.LogError(g.logger, "failed to load session user", err)
			g.renderError(c, http.StatusInternalServerError, MsgGeneric)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// CurrentUser は RequireSession が設定したユーザーを返します。
func CurrentUser(c *gin.Context) (*users.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*users.User)
	return user, ok && user != nil
}

func redirectToLogin(c *gin.Context) {
	c.Redirect(http.StatusFound, LoginPath)
	c.Abort()
}
