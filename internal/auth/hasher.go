// Package auth はパスワードハッシュ、セッション管理、アクセス制御を提供します。
package auth

import (
	"encoding/base64"
	"errors"
	"strconv"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt が扱えるパスワード長の上限（バイト）です。
const maxPasswordBytes = 72

var (
	// ErrEmptyPassword は空のパスワードをハッシュしようとした場合に返されます。
	ErrEmptyPassword = errors.New("password cannot be empty")
	// ErrPasswordTooLong は 72 バイトを超えるパスワードに対して返されます。
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// PasswordHasher はパスワードのハッシュ化と照合を提供します。
type PasswordHasher interface {
	// Hash はソルト付きの一方向ハッシュを返します。同じ入力でも毎回異なる値になります。
	Hash(password string) (string, error)

	// Verify は password が digest と一致するかを返します。
	// 不一致および digest の形式不正は (false, nil)、内部障害のみ error を返します。
	Verify(password, digest string) (bool, error)
}

// BcryptHasher は bcrypt による PasswordHasher 実装です。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher は work factor を指定して BcryptHasher を作成します。
func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

// Hash は bcrypt ハッシュを生成します。
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").
			With("cost", h.cost).
			Wrap(err)
	}
	return string(digest), nil
}

// Verify は bcrypt で照合します（比較は定数時間）。
// bcrypt は先頭 72 バイトしか比較しないため、それを超えるパスワードは一致しません。
func (h *BcryptHasher) Verify(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	if len(password) > maxPasswordBytes {
		// 照合自体は行い、応答時間を揃える
		return false, nil
	}
	if err == nil {
		return true, nil
	}
	if isMismatchOrMalformed(err) {
		return false, nil
	}
	return false, oops.Code("AUTH_VERIFY_FAILED").Wrap(err)
}

// NeedsRehash は digest のコストが現在の設定と異なる場合に true を返します。
func (h *BcryptHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost != h.cost
}

func isMismatchOrMalformed(err error) bool {
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
		return true
	}

	var prefixErr bcrypt.InvalidHashPrefixError
	var costErr bcrypt.InvalidCostError
	var versionErr bcrypt.HashVersionTooNewError
	var numErr *strconv.NumError
	var b64Err base64.CorruptInputError
	return errors.As(err, &prefixErr) ||
		errors.As(err, &costErr) ||
		errors.As(err, &versionErr) ||
		errors.As(err, &numErr) ||
		errors.As(err, &b64Err)
}
