package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionDuration bounds how long an operator session token remains valid
// once issued. Short-lived by design: the management API is a low-traffic
// surface and re-authenticating hourly is cheap.
const sessionDuration = 1 * time.Hour

// Claims holds the custom JWT claims embedded in an operator session
// token. Standard claims (exp, iat, iss) come from jwt.RegisteredClaims.
type Claims struct {
	jwt.RegisteredClaims
}

// SessionManager issues and verifies HS256 operator session tokens. Unlike
// the multi-user RS256 scheme this package used to carry, the management
// API has exactly one principal — "the operator holding the configured
// secret" — so a symmetric key is the right shape: one process-wide
// secret signs and verifies, with no key-distribution problem to solve.
type SessionManager struct {
	secret []byte
	issuer string
}

// NewSessionManager constructs a SessionManager from the raw secret bytes.
// Callers typically derive secret from the same configured value used to
// bcrypt-hash the operator token (see HashSecret/CompareSecret), so that a
// single configuration value both gates login and signs the resulting
// session.
func NewSessionManager(secret []byte, issuer string) *SessionManager {
	return &SessionManager{secret: secret, issuer: issuer}
}

// IssueSession mints a signed session token valid for sessionDuration.
func (m *SessionManager) IssueSession() (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, nil
}

// ValidateSession parses and verifies a session token string.
func (m *SessionManager) ValidateSession(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
