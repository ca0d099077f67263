package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret bcrypt-hashes a configured plaintext secret (the management
// operator token) so the process never needs to keep the plaintext around
// beyond startup.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// CompareSecret reports whether candidate matches the bcrypt hash
// produced by HashSecret.
func CompareSecret(hash []byte, candidate string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil
}

// CompareBearer does a constant-time comparison of two plaintext bearer
// tokens — used for the /v1/* api_key check, where the configured value
// is compared directly rather than via bcrypt (it is a high-entropy
// shared secret captured once when the router is built, not a
// user-chosen password at rest).
func CompareBearer(configured, candidate string) bool {
	if configured == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(candidate)) == 1
}
