// Package audit は認証イベントの非同期記録と参照を提供します。
package audit

import "time"

// Kind は認証イベントの種別を表します。
type Kind string

const (
	KindRegister       Kind = "register"
	KindLoginSucceeded Kind = "login_succeeded"
	KindLoginFailed    Kind = "login_failed"
	KindLogout         Kind = "logout"
)

// Event は認証イベント1件です。
// ログイン失敗のイベントには入力されたメールアドレスを含めません。
type Event struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	UserID        string    `json:"userId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RemoteIP      string    `json:"remoteIp,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Label はダッシュボード表示用の文言を返します。
func (e Event) Label() string {
	switch e.Kind {
	case KindRegister:
		return "Account created"
	case KindLoginSucceeded:
		return "Signed in"
	case KindLoginFailed:
		return "Failed sign-in"
	case KindLogout:
		return "Signed out"
	default:
		return string(e.Kind)
	}
}
