package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const maxAuthAttempts = 3

// Authenticator runs the HMAC challenge handshake for websocket clients
// and checks the shared secret header on HTTP RPC. With an empty secret
// every client is trusted.
type Authenticator struct {
	secret string
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Enabled reports whether clients must authenticate.
func (a *Authenticator) Enabled() bool {
	return a.secret != ""
}

// Challenge returns 32 random bytes, hex encoded.
func (a *Authenticator) Challenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign computes the signature a client must send for challenge.
func (a *Authenticator) Sign(challenge string) string {
	h := hmac.New(sha256.New, []byte(a.secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify compares signature with the expected one in constant time.
func (a *Authenticator) Verify(challenge, signature string) bool {
	return subtle.ConstantTimeCompare([]byte(a.Sign(challenge)), []byte(signature)) == 1
}

// CheckSecret validates the secret sent with an HTTP request.
func (a *Authenticator) CheckSecret(got string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.secret), []byte(got)) == 1
}

// Respond checks a client's answer to its pending challenge and updates
// its state. The returned result is sent back as is.
func (a *Authenticator) Respond(c *Client, signature string) AuthResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.challenge == "" {
		return AuthResult{Event: "auth.failure", Message: "No challenge found"}
	}
	if !a.Verify(c.challenge, signature) {
		c.authAttempts++
		if c.authAttempts >= maxAuthAttempts {
			return AuthResult{Event: "auth.failure", Message: "Too many failed attempts"}
		}
		return AuthResult{Event: "auth.failure", Message: "Invalid signature"}
	}

	c.authenticated = true
	c.state = StateAuthenticated
	c.authAttempts = 0
	c.challenge = ""
	return AuthResult{Event: "auth.success", Success: true}
}
