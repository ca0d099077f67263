package auth

import "errors"

// Sentinel errors returned by the auth package. Callers should use
// errors.Is for comparison.
var (
	// ErrTokenExpired is returned when an operator session JWT has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrUnauthorized is returned when a presented bearer token does not
	// match the configured secret.
	ErrUnauthorized = errors.New("auth: unauthorized")
)
