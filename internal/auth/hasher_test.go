package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHash(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	t.Run("produces bcrypt digest that is not the plaintext", func(t *testing.T) {
		digest, err := hasher.Hash("secret")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(digest, "$2a$"))
		assert.NotContains(t, digest, "secret")
	})

	t.Run("same password produces different digests (salt)", func(t *testing.T) {
		d1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		d2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, d1, d2)
	})

	t.Run("uses configured cost", func(t *testing.T) {
		digest, err := NewBcryptHasher(6).Hash("secret")
		require.NoError(t, err)
		cost, err := bcrypt.Cost([]byte(digest))
		require.NoError(t, err)
		assert.Equal(t, 6, cost)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.ErrorIs(t, err, ErrEmptyPassword)
	})

	t.Run("rejects password over 72 bytes", func(t *testing.T) {
		_, err := hasher.Hash(strings.Repeat("a", 73))
		assert.ErrorIs(t, err, ErrPasswordTooLong)
	})
}

func TestBcryptVerify(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)

	t.Run("correct password verifies", func(t *testing.T) {
		for _, p := range []string{"secret", "pässwörd", "with spaces in it", strings.Repeat("x", 72)} {
			digest, err := hasher.Hash(p)
			require.NoError(t, err)
			ok, err := hasher.Verify(p, digest)
			require.NoError(t, err)
			assert.True(t, ok, "password %q", p)
		}
	})

	t.Run("different password fails", func(t *testing.T) {
		digest, err := hasher.Hash("password1")
		require.NoError(t, err)
		ok, err := hasher.Verify("password2", digest)
		require.NoError(t, err)
		assert.False(t, ok)

		long := strings.Repeat("x", 72)
		digest, err = hasher.Hash(long)
		require.NoError(t, err)
		for _, p := range []string{long + "-suffix", long + "x", strings.Repeat("x", 200)} {
			ok, err = hasher.Verify(p, digest)
			require.NoError(t, err)
			assert.False(t, ok, "password of %d bytes", len(p))
		}
	})

	t.Run("malformed digests return false without error", func(t *testing.T) {
		malformed := []string{
			"",
			"short",
			"not-a-valid-bcrypt-digest-but-long-enough-to-pass-the-length-check",
			"$2a$xx$abcdefghijklmnopqrstuuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123",
			"$2a$99$abcdefghijklmnopqrstuuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123",
			"$9a$10$abcdefghijklmnopqrstuuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123",
		}
		for _, digest := range malformed {
			ok, err := hasher.Verify("secret", digest)
			assert.NoError(t, err, "digest %q", digest)
			assert.False(t, ok, "digest %q", digest)
		}
	})
}

func TestNeedsRehash(t *testing.T) {
	digest, err := NewBcryptHasher(bcrypt.MinCost).Hash("secret")
	require.NoError(t, err)

	assert.False(t, NewBcryptHasher(bcrypt.MinCost).NeedsRehash(digest))
	assert.True(t, NewBcryptHasher(bcrypt.MinCost+1).NeedsRehash(digest))
	assert.True(t, NewBcryptHasher(bcrypt.MinCost).NeedsRehash("garbage"))
}
