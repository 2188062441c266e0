package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/harun/winagent/internal/observability"
)

// maxAuthAttempts failed signatures close the connection.
const maxAuthAttempts = 3

// AuthHandler manages challenge-response authentication. Every rejection and
// every successful handshake is written to the security log.
type AuthHandler struct {
	sharedSecret string
	security     *observability.SecurityLogger
}

// NewAuthHandler creates a new authentication handler. A nil security logger
// disables security events.
func NewAuthHandler(sharedSecret string, security *observability.SecurityLogger) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
		security:     security,
	}
}

// GenerateChallenge generates a cryptographically random 32-byte challenge
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// VerifySignature verifies an HMAC-SHA256 signature against a challenge
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	// Compute expected signature
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(challenge))
	expected := hex.EncodeToString(h.Sum(nil))

	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifySecret checks the secret an HTTP RPC caller presents in place of the
// challenge exchange. remote identifies the caller in the security log.
func (a *AuthHandler) VerifySecret(ctx context.Context, remote, given string) bool {
	if given != "" && subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(given)) == 1 {
		return true
	}
	a.security.RecordAuthFailure(ctx, remote, "invalid shared secret")
	return false
}

// HandleAuthResponse processes an authentication response from a client
func (a *AuthHandler) HandleAuthResponse(ctx context.Context, client *Client, signature string) AuthResult {
	// Check if client has a challenge
	if client.Challenge == "" {
		return a.reject(ctx, client, "No challenge found")
	}

	// Verify signature
	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++

		// Block after maxAuthAttempts failures
		if client.AuthAttempts >= maxAuthAttempts {
			return a.reject(ctx, client, "Too many failed attempts")
		}

		return a.reject(ctx, client, "Invalid signature")
	}

	// Authentication successful
	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = "" // Clear challenge

	a.security.Record(ctx, observability.SecurityEvent{
		Actor:    client.IPAddress,
		Action:   "gateway_auth",
		Status:   "success",
		Metadata: map[string]interface{}{"client_id": client.ID},
	})

	return AuthResult{
		Event:   "auth.success",
		Success: true,
	}
}

func (a *AuthHandler) reject(ctx context.Context, client *Client, reason string) AuthResult {
	a.security.RecordAuthFailure(ctx, client.IPAddress, reason)
	return AuthResult{
		Event:   "auth.failure",
		Success: false,
		Message: reason,
	}
}
