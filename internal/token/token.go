// Package token implements the single-use action-token protocol that lets an
// unauthenticated email recipient act on exactly one transfer request exactly
// once, within a bounded window.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"transferdesk/internal/models"
)

// TTL is the validity window of an issued token.
const TTL = 7 * 24 * time.Hour

// tokenBytes yields 256 bits of entropy per token.
const tokenBytes = 32

// Generate returns a new cryptographically random token value.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate action token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issue mints a token round onto the request: a fresh random value and an
// expiry of now + TTL. The caller persists the request afterwards.
func Issue(req *models.TransferRequest, now time.Time) (string, error) {
	value, err := Generate()
	if err != nil {
		return "", err
	}
	expires := now.Add(TTL)
	req.ActionToken = &value
	req.ActionTokenExpiresAt = &expires
	req.ActionTokenUsedAt = nil
	return value, nil
}

// Verify checks a presented token against the request's stored token round
// without consuming it. A token is valid iff the stored value matches, the
// expiry is in the future, and the round is unconsumed. Each failure is
// terminal and maps to a distinct user-visible error.
func Verify(req *models.TransferRequest, presented string, now time.Time) *models.AppError {
	if req.ActionToken == nil || presented == "" {
		return models.NewInvalidTokenError()
	}
	if subtle.ConstantTimeCompare([]byte(*req.ActionToken), []byte(presented)) != 1 {
		return models.NewInvalidTokenError()
	}
	if req.ActionTokenExpiresAt == nil || !now.Before(*req.ActionTokenExpiresAt) {
		return models.NewTokenExpiredError()
	}
	if req.ActionTokenUsedAt != nil {
		return models.NewTokenAlreadyUsedError()
	}
	return nil
}

// ActionURL builds the email-embedded link for the given action. The request
// id and token always travel together; losing either invalidates the link.
func ActionURL(base string, action string, requestPublicID, tokenValue string) string {
	return fmt.Sprintf("%s/broker-action/%s?requestId=%s&token=%s", base, action, requestPublicID, tokenValue)
}
