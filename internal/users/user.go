// Package users はユーザー（認証情報）の永続化を提供します。
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	// ErrNotFound は該当するユーザーが存在しない場合に返されます。
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail はメールアドレスが既に登録済みの場合に返されます。
	ErrDuplicateEmail = errors.New("email already registered")
)

// ValidationError は必須項目の欠落や形式不正を表します。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// User はユーザーレコードです。PasswordHash に平文が入ることはありません。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}

// DisplayName はダッシュボード表示用の名前を返します。
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Store はユーザーレコードの作成と検索を提供します。
// 更新・削除はこのアプリケーションでは扱いません。
type Store interface {
	// Create はレコードを検証して保存し、ID を採番したレコードを返します。
	Create(ctx context.Context, user *User) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// NormalizeEmail は前後の空白を除去して小文字化します。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// prepare は保存前の検証と正規化を行い、保存用のコピーを返します。
func prepare(user *User, now time.Time) (*User, error) {
	if user == nil {
		return nil, &ValidationError{Field: "user", Reason: "is nil"}
	}
	record := *user
	record.Email = NormalizeEmail(record.Email)
	record.FirstName = strings.TrimSpace(record.FirstName)
	record.LastName = strings.TrimSpace(record.LastName)

	if record.Email == "" {
		return nil, &ValidationError{Field: "email", Reason: "is required"}
	}
	if addr, err := mail.ParseAddress(record.Email); err != nil || addr.Address != record.Email {
		return nil, &ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	if record.PasswordHash == "" {
		return nil, &ValidationError{Field: "password", Reason: "is required"}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	return &record, nil
}
