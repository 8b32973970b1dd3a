package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
)

const (
	// CSRFFieldName はフォームに埋め込む CSRF トークンのフィールド名です。
	CSRFFieldName  = "csrf_token"
	sessionKeyCSRF = "csrf_token"
	csrfTokenBytes = 32
)

// CSRFToken はセッションに保存された CSRF トークンを返します。無ければ生成して保存します。
// ログイン前でもトークンを持つため、ログイン・登録フォームの偽装送信を防げます。
func (m *SessionManager) CSRFToken(c *gin.Context) (string, error) {
	session := sessions.Default(c)
	if token, ok := session.Get(sessionKeyCSRF).(string); ok && token != "" {
		return token, nil
	}

	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("CSRF_TOKEN_FAILED").Wrap(err)
	}
	token := hex.EncodeToString(buf)

	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		return "", oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}
	return token, nil
}

// VerifyCSRF はフォームの csrf_token とセッションのトークンを比較するミドルウェアです。
// 不一致の場合は 403 を返し、後続のハンドラーを呼びません。
func (m *SessionManager) VerifyCSRF(render ErrorRenderer) gin.HandlerFunc {
	if render == nil {
		render = PlainError
	}
	return func(c *gin.Context) {
		session := sessions.Default(c)
		expected, _ := session.Get(sessionKeyCSRF).(string)
		received := c.PostForm(CSRFFieldName)
		if expected == "" || received == "" ||
			subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			m.logger.Info("csrf token rejected", "path", c.Request.URL.Path, "has_session_token", expected != "")
			render(c, http.StatusForbidden, MsgFormExpired)
			c.Abort()
			return
		}
		c.Next()
	}
}
