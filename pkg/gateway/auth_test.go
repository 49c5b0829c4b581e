package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computeHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func TestAuthenticator_Challenge(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	t.Run("should generate 32-byte challenge as hex", func(t *testing.T) {
		challenge, err := auth.Challenge()
		require.NoError(t, err)
		assert.Len(t, challenge, 64)
	})

	t.Run("should generate unique challenges", func(t *testing.T) {
		c1, err1 := auth.Challenge()
		c2, err2 := auth.Challenge()
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, c1, c2)
	})
}

func TestAuthenticator_Verify(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	t.Run("should verify valid signature", func(t *testing.T) {
		assert.True(t, auth.Verify("abc", computeHMAC("abc", "test-secret")))
		assert.Equal(t, computeHMAC("abc", "test-secret"), auth.Sign("abc"))
	})

	t.Run("should reject invalid signature", func(t *testing.T) {
		assert.False(t, auth.Verify("abc", "invalid-signature"))
		assert.False(t, auth.Verify("abc", computeHMAC("abc", "other-secret")))
	})
}

func TestAuthenticator_CheckSecret(t *testing.T) {
	t.Run("should trust everyone without a secret", func(t *testing.T) {
		auth := NewAuthenticator("")
		assert.False(t, auth.Enabled())
		assert.True(t, auth.CheckSecret(""))
	})

	t.Run("should compare the header with the secret", func(t *testing.T) {
		auth := NewAuthenticator("s3cret")
		assert.True(t, auth.CheckSecret("s3cret"))
		assert.False(t, auth.CheckSecret(""))
		assert.False(t, auth.CheckSecret("s3cre"))
	})
}

func TestAuthenticator_Respond(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	t.Run("should authenticate a valid response", func(t *testing.T) {
		c := &Client{ID: "c1"}
		c.setChallenge("challenge-1")

		result := auth.Respond(c, computeHMAC("challenge-1", "test-secret"))
		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, c.isAuthenticated())
	})

	t.Run("should fail without a pending challenge", func(t *testing.T) {
		c := &Client{ID: "c2"}
		result := auth.Respond(c, "anything")
		assert.False(t, result.Success)
		assert.Equal(t, "No challenge found", result.Message)
	})

	t.Run("should count failed attempts", func(t *testing.T) {
		c := &Client{ID: "c3"}
		c.setChallenge("challenge-3")

		for i := 1; i < maxAuthAttempts; i++ {
			result := auth.Respond(c, "bad")
			assert.Equal(t, "Invalid signature", result.Message)
			assert.Equal(t, i, c.attempts())
		}
		result := auth.Respond(c, "bad")
		assert.Equal(t, "Too many failed attempts", result.Message)
		assert.False(t, c.isAuthenticated())
	})
}
