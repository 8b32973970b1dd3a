package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/yourusername/simple-auth/internal/logging"
)

const (
	// SessionCookieName はセッションCookieの名前です。
	SessionCookieName    = "session"
	sessionKeyUser       = "user_id"
	sessionKeyID         = "sid"
	sessionKeyCreatedAt  = "created_at"
	sessionKeyLastActive = "last_activity"
)

// ErrInvalidSession はセッションが存在しない、改ざんされている、期限切れ、
// または失効済みの場合に返されます。
var ErrInvalidSession = errors.New("invalid session")

// SessionPolicy はセッションの有効期間を表します。
//
// セッションは max(作成時刻+Duration, 最終アクセス+ActiveDuration) まで有効で、
// アクセスのたびに最終アクセスが更新されます。絶対的な上限は設けません。
type SessionPolicy struct {
	Duration       time.Duration
	ActiveDuration time.Duration
}

// ExpiresAt はセッションが無効になる時刻を返します。
func (p SessionPolicy) ExpiresAt(createdAt, lastActiveAt time.Time) time.Time {
	fixed := createdAt.Add(p.Duration)
	sliding := lastActiveAt.Add(p.ActiveDuration)
	if sliding.After(fixed) {
		return sliding
	}
	return fixed
}

type sessionState struct {
	userID       string
	id           string
	createdAt    time.Time
	lastActiveAt time.Time
}

// SessionManager はCookieに保持するセッションの発行・検証・破棄を行います。
// Cookie の署名と暗号化は sessions ミドルウェアのストアが担います。
type SessionManager struct {
	policy  SessionPolicy
	cookie  sessions.Options
	revoker Revoker
	now     func() time.Time
	logger  *slog.Logger
}

// SessionOption は SessionManager の任意設定です。
type SessionOption func(*SessionManager)

// WithRevoker は破棄済みセッションの失効リストを設定します。
func WithRevoker(r Revoker) SessionOption {
	return func(m *SessionManager) {
		m.revoker = r
	}
}

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// NewSessionManager は SessionManager を作成します。
func NewSessionManager(policy SessionPolicy, secureCookie bool, logger *slog.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		policy: policy,
		cookie: sessions.Options{
			Path: "/",
			// MaxAge 0 でブラウザを閉じると消えるセッションCookieになる
			MaxAge:   0,
			HttpOnly: true,
			Secure:   secureCookie,
			SameSite: http.SameSiteLaxMode,
		},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CookieOptions はセッションストアに設定する Cookie 属性を返します。
func (m *SessionManager) CookieOptions() sessions.Options {
	return m.cookie
}

// Issue は userID に紐づく新しいセッションを発行します。
func (m *SessionManager) Issue(c *gin.Context, userID string) error {
	if userID == "" {
		return oops.Code("SESSION_ISSUE_FAILED").Errorf("userID is required")
	}

	session := sessions.Default(c)
	// 以前の値を引き継がない
	session.Clear()
	session.Options(m.cookie)

	now := m.now()
	session.Set(sessionKeyUser, userID)
	session.Set(sessionKeyID, uuid.NewString())
	session.Set(sessionKeyCreatedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())

	if err := session.Save(); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}
	return nil
}

// Validate はセッションを検証し、有効であれば userID を返します。
// 検証に失敗した場合は必ず ErrInvalidSession を返します。
// 成功時は最終アクセス時刻を更新します。
func (m *SessionManager) Validate(c *gin.Context) (string, error) {
	session := sessions.Default(c)
	state, ok := readState(session)
	if !ok {
		return "", ErrInvalidSession
	}

	now := m.now()
	if !now.Before(m.policy.ExpiresAt(state.createdAt, state.lastActiveAt)) {
		m.clear(session)
		return "", ErrInvalidSession
	}

	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(c.Request.Context(), state.id)
		if err != nil {
			logging.LogError(m.logger, "session revocation lookup failed", err)
			return "", ErrInvalidSession
		}
		if revoked {
			m.clear(session)
			return "", ErrInvalidSession
		}
	}

	session.Set(sessionKeyLastActive, now.Unix())
	if err := session.Save(); err != nil {
		m.logger.Warn("failed to extend session", "error", err)
	}
	return state.userID, nil
}

// Destroy はセッションを破棄し、Cookie を削除します。
// セッションが無い場合も成功として扱います。破棄したセッションの userID を返します。
func (m *SessionManager) Destroy(c *gin.Context) (string, error) {
	session := sessions.Default(c)
	state, ok := readState(session)

	var revokeErr error
	if ok && m.revoker != nil {
		// 複製された Cookie が生き残れる最後の時刻まで失効させる
		now := m.now()
		until := m.policy.ExpiresAt(state.createdAt, now)
		if err := m.revoker.Revoke(c.Request.Context(), state.id, until); err != nil {
			revokeErr = oops.Code("SESSION_REVOKE_FAILED").
				With("session_id", state.id).
				Wrap(err)
		}
	}

	session.Clear()
	expired := m.cookie
	expired.MaxAge = -1
	session.Options(expired)
	if err := session.Save(); err != nil {
		return state.userID, oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}
	return state.userID, revokeErr
}

func (m *SessionManager) clear(session sessions.Session) {
	session.Clear()
	expired := m.cookie
	expired.MaxAge = -1
	session.Options(expired)
	if err := session.Save(); err != nil {
		m.logger.Warn("failed to clear session", "error", err)
	}
}

func readState(session sessions.Session) (sessionState, bool) {
	userID, _ := session.Get(sessionKeyUser).(string)
	id, _ := session.Get(sessionKeyID).(string)
	state := sessionState{
		userID:       userID,
		id:           id,
		createdAt:    readUnix(session.Get(sessionKeyCreatedAt)),
		lastActiveAt: readUnix(session.Get(sessionKeyLastActive)),
	}
	if state.userID == "" || state.id == "" || state.createdAt.IsZero() || state.lastActiveAt.IsZero() {
		return sessionState{}, false
	}
	return state, true
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
