package auth

import (
	"crypto/sha256"
	"errors"
	"io"

	"github.com/gin-contrib/sessions/cookie"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionKeyInfo = "simple-auth session cookie v1"
	sessionKeySize = 32
)

// NewCookieStore は secret から HMAC 鍵と AES-256 鍵を導出し、
// 署名かつ暗号化された Cookie ストアを返します。
func NewCookieStore(secret string) (cookie.Store, error) {
	hashKey, blockKey, err := deriveSessionKeys(secret)
	if err != nil {
		return nil, err
	}
	return cookie.NewStore(hashKey, blockKey), nil
}

func deriveSessionKeys(secret string) ([]byte, []byte, error) {
	if secret == "" {
		return nil, nil, errors.New("session secret is empty")
	}

	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo))
	hashKey := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, err
	}
	blockKey := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}
