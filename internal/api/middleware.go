package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/auth"
	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
	"github.com/arkeep-io/llmgateway/internal/ratelimit"
)

// RequestLogger is a chi-compatible middleware that logs each request with
// method, path, status and latency, mirroring the teacher's
// api.RequestLogger. Chi's middleware.RequestID/RealIP are expected to run
// first so request_id and remote_addr are populated.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// RequireAPIKey enforces spec §6.5's api_key check on /v1/*: when
// configured is non-empty, every request must carry a matching
// "Authorization: Bearer <api_key>" header. An empty configured value
// disables the check entirely, per spec.
func RequireAPIKey(configured string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if configured == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			candidate := bearerToken(r)
			if !auth.CompareBearer(configured, candidate) {
				writeOpenAIError(w, gatewayerr.New(gatewayerr.KindAuthentication, "missing or invalid API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperatorToken gates the management façade behind the optional
// static operator secret (SPEC_FULL §5.6) — additive: when unconfigured,
// /management/* behaves exactly as spec.md describes, with no auth at all.
// A request may authenticate either with the raw bearer token (bcrypt
// compared) or with a session JWT obtained from POST /management/login,
// carried as a cookie so the (out-of-scope) management UI does not have
// to resend the bearer token on every call.
func RequireOperatorToken(tokenHash []byte, sessions *auth.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(tokenHash) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(sessionCookieName); err == nil {
				if _, err := sessions.ValidateSession(cookie.Value); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			if candidate := bearerToken(r); candidate != "" && auth.CompareSecret(tokenHash, candidate) {
				next.ServeHTTP(w, r)
				return
			}
			mgmtUnauthorized(w)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RateLimit applies spec §4.7's fixed one-minute-window limiter, keyed by
// the client identity resolved per spec §9: X-Forwarded-For, then
// CF-Connecting-IP, then the literal string "unknown".
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiter.Allow(key, time.Now()) {
				writeOpenAIError(w, gatewayerr.New(gatewayerr.KindRateLimitExceeded, "rate limit exceeded, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	}
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return cf
	}
	return "unknown"
}
