package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/auth"
	"github.com/arkeep-io/llmgateway/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAPIKey_Disabled(t *testing.T) {
	h := RequireAPIKey("")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/models", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAPIKey_RejectsMissing(t *testing.T) {
	h := RequireAPIKey("secret")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAPIKey_AcceptsMatching(t *testing.T) {
	h := RequireAPIKey("secret")(okHandler())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireOperatorToken_Disabled(t *testing.T) {
	h := RequireOperatorToken(nil, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/management/agents", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireOperatorToken_AcceptsBearer(t *testing.T) {
	hash, err := auth.HashSecret("op-token")
	require.NoError(t, err)
	sessions := auth.NewSessionManager(hash, "gatewayd")

	h := RequireOperatorToken(hash, sessions)(okHandler())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/management/agents", nil)
	req.Header.Set("Authorization", "Bearer op-token")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireOperatorToken_AcceptsSessionCookie(t *testing.T) {
	hash, err := auth.HashSecret("op-token")
	require.NoError(t, err)
	sessions := auth.NewSessionManager(hash, "gatewayd")

	token, err := sessions.IssueSession()
	require.NoError(t, err)

	h := RequireOperatorToken(hash, sessions)(okHandler())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/management/agents", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireOperatorToken_RejectsWrongToken(t *testing.T) {
	hash, err := auth.HashSecret("op-token")
	require.NoError(t, err)
	sessions := auth.NewSessionManager(hash, "gatewayd")

	h := RequireOperatorToken(hash, sessions)(okHandler())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/management/agents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit_AllowsThenRejects(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute)
	h := RateLimit(limiter)(okHandler())

	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, httptest.NewRequest("GET", "/v1/models", nil))
	assert.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest("GET", "/v1/models", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestClientKey_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	req.Header.Set("CF-Connecting-IP", "198.51.100.9")
	assert.Equal(t, "203.0.113.4", clientKey(req))
}

func TestClientKey_FallsBackToCloudflareHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("CF-Connecting-IP", "198.51.100.9")
	assert.Equal(t, "198.51.100.9", clientKey(req))
}

func TestClientKey_DefaultsToUnknown(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "unknown", clientKey(req))
}

func TestBearerToken_ParsesHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))
}

func TestBearerToken_MissingHeaderIsEmpty(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", bearerToken(req))
}
