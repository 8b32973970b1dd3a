package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-test-secret-test-secret"

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sessionHarness は Cookie を保持するブラウザ相当の振る舞いでセッションを検証します。
type sessionHarness struct {
	t       *testing.T
	router  *gin.Engine
	manager *SessionManager
	cookie  *http.Cookie
}

func newSessionHarness(t *testing.T, policy SessionPolicy, clock *fakeClock, opts ...SessionOption) *sessionHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts = append([]SessionOption{WithClock(clock.Now)}, opts...)
	manager := NewSessionManager(policy, true, discardLogger(), opts...)

	store, err := NewCookieStore(testSecret)
	require.NoError(t, err)
	store.Options(manager.CookieOptions())

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, store))
	router.POST("/issue/:id", func(c *gin.Context) {
		if err := manager.Issue(c, c.Param("id")); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Status(http.StatusNoContent)
	})
	router.GET("/validate", func(c *gin.Context) {
		userID, err := manager.Validate(c)
		if err != nil {
			c.String(http.StatusUnauthorized, err.Error())
			return
		}
		c.String(http.StatusOK, userID)
	})
	router.POST("/destroy", func(c *gin.Context) {
		userID, err := manager.Destroy(c)
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.String(http.StatusOK, userID)
	})

	return &sessionHarness{t: t, router: router, manager: manager}
}

func (h *sessionHarness) do(method, path string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if h.cookie != nil {
		req.AddCookie(&http.Cookie{Name: h.cookie.Name, Value: h.cookie.Value})
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name != SessionCookieName {
			continue
		}
		if c.MaxAge < 0 {
			h.cookie = nil
		} else {
			h.cookie = c
		}
	}
	return rec
}

func (h *sessionHarness) validate() (int, string) {
	rec := h.do(http.MethodGet, "/validate")
	return rec.Code, rec.Body.String()
}

var defaultPolicy = SessionPolicy{Duration: 10 * time.Minute, ActiveDuration: 5 * time.Minute}

func TestSessionPolicyExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, created.Add(10*time.Minute), defaultPolicy.ExpiresAt(created, created))
	assert.Equal(t, created.Add(10*time.Minute), defaultPolicy.ExpiresAt(created, created.Add(4*time.Minute)))
	assert.Equal(t, created.Add(14*time.Minute), defaultPolicy.ExpiresAt(created, created.Add(9*time.Minute)))
}

func TestSessionIssueThenValidate(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	h := newSessionHarness(t, defaultPolicy, clock)

	rec := h.do(http.MethodPost, "/issue/user-1")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, h.cookie)

	assert.True(t, h.cookie.HttpOnly)
	assert.True(t, h.cookie.Secure)
	assert.Zero(t, h.cookie.MaxAge)
	assert.True(t, h.cookie.Expires.IsZero(), "cookie must not persist beyond the browser session")

	code, body := h.validate()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "user-1", body)
}

func TestSessionValidateWithoutCookie(t *testing.T) {
	h := newSessionHarness(t, defaultPolicy, &fakeClock{now: time.Now()})

	code, body := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, ErrInvalidSession.Error(), body)
}

func TestSessionTamperedCookieIsInvalid(t *testing.T) {
	h := newSessionHarness(t, defaultPolicy, &fakeClock{now: time.Now()})
	h.do(http.MethodPost, "/issue/user-1")
	require.NotNil(t, h.cookie)

	value := []byte(h.cookie.Value)
	mid := len(value) / 2
	if value[mid] == 'A' {
		value[mid] = 'B'
	} else {
		value[mid] = 'A'
	}
	h.cookie.Value = string(value)

	code, _ := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSessionCookieFromOtherSecretIsInvalid(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	h := newSessionHarness(t, defaultPolicy, clock)

	other, err := NewCookieStore("another-secret-another-secret-another")
	require.NoError(t, err)
	foreign := gin.New()
	foreign.Use(sessions.Sessions(SessionCookieName, other))
	foreign.POST("/issue", func(c *gin.Context) {
		require.NoError(t, h.manager.Issue(c, "intruder"))
		c.Status(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	foreign.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/issue", nil))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	h.cookie = cookies[0]

	code, _ := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSessionDestroy(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	h := newSessionHarness(t, defaultPolicy, clock)
	h.do(http.MethodPost, "/issue/user-1")

	rec := h.do(http.MethodPost, "/destroy")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
	assert.Nil(t, h.cookie, "destroy must expire the cookie")

	code, _ := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)

	// 破棄済み・未発行のセッションの破棄もエラーにならない
	rec = h.do(http.MethodPost, "/destroy")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSessionDestroyRevokesReplayedCookie(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	revoker := NewMemoryRevocationList()
	revoker.now = clock.Now
	h := newSessionHarness(t, defaultPolicy, clock, WithRevoker(revoker))

	h.do(http.MethodPost, "/issue/user-1")
	stolen := *h.cookie

	h.do(http.MethodPost, "/destroy")
	h.cookie = &stolen

	code, _ := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSessionSlidingExpiration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	h := newSessionHarness(t, defaultPolicy, clock)
	h.do(http.MethodPost, "/issue/user-1")

	// 固定期間内
	clock.Advance(9 * time.Minute)
	code, _ := h.validate()
	require.Equal(t, http.StatusOK, code)

	// 固定期間を過ぎても、直前のアクセスから ActiveDuration 以内なら有効
	clock.Advance(4 * time.Minute)
	code, _ = h.validate()
	require.Equal(t, http.StatusOK, code)

	clock.Advance(4 * time.Minute)
	code, _ = h.validate()
	require.Equal(t, http.StatusOK, code)

	// 最終アクセスから ActiveDuration を超えると失効
	clock.Advance(6 * time.Minute)
	code, _ = h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Nil(t, h.cookie, "expired session must be cleared from the client")
}

func TestSessionExpiresWithoutActivity(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	h := newSessionHarness(t, defaultPolicy, clock)
	h.do(http.MethodPost, "/issue/user-1")

	clock.Advance(10 * time.Minute)
	code, _ := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)
}

type failingRevoker struct{}

func (failingRevoker) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	return errors.New("redis unavailable")
}

func (failingRevoker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func TestSessionRevocationFailureFailsClosed(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	h := newSessionHarness(t, defaultPolicy, clock, WithRevoker(failingRevoker{}))
	h.do(http.MethodPost, "/issue/user-1")

	code, _ := h.validate()
	assert.Equal(t, http.StatusUnauthorized, code)

	// 失効の記録に失敗しても Cookie は削除される
	rec := h.do(http.MethodPost, "/destroy")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, h.cookie)
}

func TestSessionIssueRequiresUserID(t *testing.T) {
	h := newSessionHarness(t, defaultPolicy, &fakeClock{now: time.Now()})
	rec := h.do(http.MethodPost, "/issue/")
	assert.NotEqual(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, h.cookie)
}

func TestDeriveSessionKeys(t *testing.T) {
	h1, b1, err := deriveSessionKeys(testSecret)
	require.NoError(t, err)
	assert.Len(t, h1, 32)
	assert.Len(t, b1, 32)
	assert.NotEqual(t, h1, b1)

	h2, b2, err := deriveSessionKeys(testSecret)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, b1, b2)

	_, _, err = deriveSessionKeys("")
	assert.Error(t, err)
}
