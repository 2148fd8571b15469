package config

import (
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// BearerFingerprint derives a display-safe stand-in for a bearer
// credential (the reviewer-channel bot token) for audit logging: the
// raw token never reaches a log line, but an operator can still see
// that a token is configured. Grounded on the
// teacher's identity_service.go, which hashed admin API keys with
// argon2id rather than storing or logging them in the clear.
//
// This is a one-way fingerprint, not a credential check: argon2id's
// random salt means two calls on the same token produce different
// output, so the result is only meaningful within a single process's
// logs, never compared against a stored hash.
func BearerFingerprint(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	encoded, err := argon2id.CreateHash(token, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("fingerprint bearer token: %w", err)
	}
	parts := strings.Split(encoded, "$")
	return parts[len(parts)-1], nil
}
