// Package web は登録・ログイン・ダッシュボード・ログアウトの HTTP ハンドラーを提供します。
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/simple-auth/internal/audit"
	"github.com/yourusername/simple-auth/internal/auth"
	"github.com/yourusername/simple-auth/internal/logging"
	"github.com/yourusername/simple-auth/internal/observability"
	"github.com/yourusername/simple-auth/internal/users"
)

// 利用者に表示するメッセージ
const (
	msgGeneric          = auth.MsgGeneric
	msgEmailTaken       = "That email is already taken, please try another."
	msgBadCredentials   = "Incorrect email or password."
	msgMissingLogin     = "Please enter your email and password."
	msgPasswordTooLong  = "Passwords must be 72 bytes or fewer."
	recentActivityLimit = 5
)

// rehashChecker は保存済みハッシュのコストが古いかを判定できる hasher が実装します。
type rehashChecker interface {
	NeedsRehash(digest string) bool
}

// Deps は Handler の依存をまとめたものです。Recorder と History は省略可能です。
type Deps struct {
	Users    users.Store
	Hasher   auth.PasswordHasher
	Sessions *auth.SessionManager
	Recorder audit.Recorder
	History  audit.History
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	// Checks は /healthz で確認する依存先（名前ごとの疎通確認関数）です。
	Checks map[string]HealthCheck
}

// Handler は認証フローのハンドラーです。
type Handler struct {
	users    users.Store
	hasher   auth.PasswordHasher
	sessions *auth.SessionManager
	recorder audit.Recorder
	history  audit.History
	metrics  *observability.Metrics
	logger   *slog.Logger
	checks   map[string]HealthCheck

	dummyOnce   sync.Once
	dummyDigest string
}

// NewHandler は Handler を作成します。
func NewHandler(deps Deps) *Handler {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Handler{
		users:    deps.Users,
		hasher:   deps.Hasher,
		sessions: deps.Sessions,
		recorder: recorder,
		history:  deps.History,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		checks:   deps.Checks,
	}
}

// Routes はルーティングを登録します。
func (h *Handler) Routes(router gin.IRouter, gate *auth.Gate) {
	router.GET("/", h.Landing)
	router.GET("/register", h.RegisterForm)
	router.POST("/register", h.sessions.VerifyCSRF(h.RenderError), h.Register)
	router.GET("/login", h.LoginForm)
	router.POST("/login", h.sessions.VerifyCSRF(h.RenderError), h.Login)
	router.GET("/dashboard", gate.RequireSession(), h.Dashboard)
	router.GET("/logout", h.Logout)
	router.GET("/healthz", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

// Landing は GET / のハンドラーです。
func (h *Handler) Landing(c *gin.Context) {
	c.HTML(http.StatusOK, "landing.tmpl", gin.H{"title": "Welcome"})
}

// RegisterForm は GET /register のハンドラーです。
func (h *Handler) RegisterForm(c *gin.Context) {
	h.renderRegister(c, registerInput{}, "")
}

// Register は POST /register のハンドラーです。
func (h *Handler) Register(c *gin.Context) {
	in, err := bindRegister(c)
	if err != nil {
		h.metrics.RecordAuth("register", observability.ResultRejected)
		h.renderRegister(c, in, registerBindMessage(err))
		return
	}

	digest, err := h.hasher.Hash(in.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmptyPassword):
			h.metrics.RecordAuth("register", observability.ResultRejected)
			h.renderRegister(c, in, "Please enter a password.")
		case errors.Is(err, auth.ErrPasswordTooLong):
			h.metrics.RecordAuth("register", observability.ResultRejected)
			h.renderRegister(c, in, msgPasswordTooLong)
		default:
			h.metrics.RecordAuth("register", observability.ResultError)
			logging.LogError(h.logger, "password hashing failed", err)
			h.renderRegister(c, in, msgGeneric)
		}
		return
	}

	user, err := h.users.Create(c.Request.Context(), &users.User{
		Email:        in.Email,
		PasswordHash: digest,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	})
	if err != nil {
		var vErr *users.ValidationError
		switch {
		case errors.Is(err, users.ErrDuplicateEmail):
			h.metrics.RecordAuth("register", observability.ResultRejected)
			h.renderRegister(c, in, msgEmailTaken)
		case errors.As(err, &vErr):
			h.metrics.RecordAuth("register", observability.ResultRejected)
			h.renderRegister(c, in, "Please check the "+vErr.Field+" field.")
		default:
			h.metrics.RecordAuth("register", observability.ResultError)
			logging.LogError(h.logger, "create user failed", err)
			h.renderRegister(c, in, msgGeneric)
		}
		return
	}

	// 登録直後にダッシュボードへ遷移するためセッションを発行する
	if err := h.sessions.Issue(c, user.ID); err != nil {
		h.metrics.RecordAuth("register", observability.ResultError)
		logging.LogError(h.logger, "issue session after register failed", err, "user_id", user.ID)
		h.renderRegister(c, in, msgGeneric)
		return
	}

	h.metrics.RecordAuth("register", observability.ResultSuccess)
	h.record(c, audit.Event{Kind: audit.KindRegister, UserID: user.ID})
	c.Redirect(http.StatusFound, "/dashboard")
}

// LoginForm は GET /login のハンドラーです。
func (h *Handler) LoginForm(c *gin.Context) {
	h.renderLogin(c, loginInput{}, "")
}

// Login は POST /login のハンドラーです。
// 未登録とパスワード不一致は利用者から区別できない同一の応答にします。
func (h *Handler) Login(c *gin.Context) {
	correlationID := uuid.NewString()

	in, err := bindLogin(c)
	if err != nil {
		h.metrics.RecordAuth("login", observability.ResultRejected)
		h.renderLogin(c, in, msgMissingLogin)
		return
	}

	user, err := h.users.FindByEmail(c.Request.Context(), in.Email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			// 応答時間で未登録と判別されないよう、同じコストの照合を行う
			_, _ = h.hasher.Verify(in.Password, h.dummy())
			h.rejectLogin(c, in, "", correlationID, "unknown_email")
			return
		}
		h.metrics.RecordAuth("login", observability.ResultError)
		logging.LogError(h.logger, "find user for login failed", err, "correlation_id", correlationID)
		h.renderLogin(c, in, msgGeneric)
		return
	}

	ok, err := h.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		h.metrics.RecordAuth("login", observability.ResultError)
		logging.LogError(h.logger, "password verification failed", err, "correlation_id", correlationID)
		h.renderLogin(c, in, msgGeneric)
		return
	}
	if !ok {
		h.rejectLogin(c, in, user.ID, correlationID, "password_mismatch")
		return
	}

	if rc, isChecker := h.hasher.(rehashChecker); isChecker && rc.NeedsRehash(user.PasswordHash) {
		h.logger.Info("stored password hash uses an outdated cost", "user_id", user.ID)
	}

	if err := h.sessions.Issue(c, user.ID); err != nil {
		h.metrics.RecordAuth("login", observability.ResultError)
		logging.LogError(h.logger, "issue session failed", err, "correlation_id", correlationID)
		h.renderLogin(c, in, msgGeneric)
		return
	}

	h.metrics.RecordAuth("login", observability.ResultSuccess)
	h.record(c, audit.Event{Kind: audit.KindLoginSucceeded, UserID: user.ID, CorrelationID: correlationID})
	c.Redirect(http.StatusFound, "/dashboard")
}

// Dashboard は GET /dashboard のハンドラーです。Gate の後段で呼ばれます。
func (h *Handler) Dashboard(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.Redirect(http.StatusFound, auth.LoginPath)
		return
	}

	var activity []audit.Event
	if h.history != nil {
		events, err := h.history.Recent(c.Request.Context(), user.ID, recentActivityLimit)
		if err != nil {
			logging.LogError(h.logger, "load recent activity failed", err, "user_id", user.ID)
		} else {
			activity = events
		}
	}

	c.HTML(http.StatusOK, "dashboard.tmpl", gin.H{
		"title":    "Dashboard",
		"user":     user,
		"activity": activity,
	})
}

// Logout は GET /logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	userID, err := h.sessions.Destroy(c)
	if err != nil {
		h.metrics.RecordAuth("logout", observability.ResultError)
		logging.LogError(h.logger, "destroy session failed", err)
	} else {
		h.metrics.RecordAuth("logout", observability.ResultSuccess)
	}
	if userID != "" {
		h.record(c, audit.Event{Kind: audit.KindLogout, UserID: userID})
	}
	c.Redirect(http.StatusFound, auth.LoginPath)
}

// rejectLogin は未登録・不一致の両方で同じ応答を返します。userID は既知の場合のみ渡します。
func (h *Handler) rejectLogin(c *gin.Context, in loginInput, userID, correlationID, reason string) {
	// メールアドレスは記録せず、相関IDのみ残す
	h.logger.Info("login rejected", "correlation_id", correlationID, "reason", reason)
	h.metrics.RecordAuth("login", observability.ResultRejected)
	h.record(c, audit.Event{Kind: audit.KindLoginFailed, UserID: userID, CorrelationID: correlationID})
	h.renderLogin(c, in, msgBadCredentials)
}

func (h *Handler) record(c *gin.Context, event audit.Event) {
	event.RemoteIP = c.ClientIP()
	if err := h.recorder.Record(c.Request.Context(), event); err != nil {
		logging.LogError(h.logger, "record audit event failed", err, "kind", event.Kind)
	}
}

func (h *Handler) dummy() string {
	h.dummyOnce.Do(func() {
		digest, err := h.hasher.Hash(uuid.NewString())
		if err != nil {
			h.logger.Warn("failed to prepare dummy digest", "error", err)
			return
		}
		h.dummyDigest = digest
	})
	return h.dummyDigest
}

// RenderError は error.tmpl で利用者向けのエラーページを返します。
func (h *Handler) RenderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.tmpl", gin.H{
		"title": "Error",
		"error": message,
	})
}

func (h *Handler) renderRegister(c *gin.Context, in registerInput, message string) {
	in.Password = ""
	h.renderForm(c, "register.tmpl", gin.H{
		"title": "Register",
		"form":  in,
		"error": message,
	})
}

func (h *Handler) renderLogin(c *gin.Context, in loginInput, message string) {
	in.Password = ""
	h.renderForm(c, "login.tmpl", gin.H{
		"title": "Log in",
		"form":  in,
		"error": message,
	})
}

// renderForm はセッションの CSRF トークンを埋め込んでフォームを描画します。
func (h *Handler) renderForm(c *gin.Context, name string, data gin.H) {
	token, err := h.sessions.CSRFToken(c)
	if err != nil {
		logging.LogError(h.logger, "prepare csrf token failed", err)
		h.RenderError(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	data["csrf"] = token
	c.HTML(http.StatusOK, name, data)
}
