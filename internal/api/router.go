package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/broker"
	"github.com/arkeep-io/llmgateway/internal/mapper"
	"github.com/arkeep-io/llmgateway/internal/metrics"
	"github.com/arkeep-io/llmgateway/internal/ratelimit"
	"github.com/arkeep-io/llmgateway/internal/wsproto"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It
// is populated in main.go after every component is initialized and passed
// to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	BrokerDeps broker.Deps
	Mapper     *mapper.Mapper
	Metrics    *metrics.Metrics
	RateLimit  *ratelimit.Limiter
	Transport  *wsproto.Transport
	Management ManagementConfig

	APIKey         string
	OperatorToken  []byte
	BrokerDeadline time.Duration
	CORSOrigin     string

	Logger *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router: the
// OpenAI-compatible façade under /v1, the management façade under
// /management, the agent WebSocket endpoint at /ws, and the unauthenticated
// /health, /api/info and /metrics probes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	origin := cfg.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: origin != "*",
		MaxAge:           300,
	}))

	openaiHandler := NewOpenAIHandler(cfg.BrokerDeps, cfg.Mapper, cfg.Metrics, cfg.BrokerDeadline)
	mgmtHandler := NewManagementHandler(cfg.Management)
	wsHandler := NewWSHandler(cfg.Transport, cfg.Logger)

	r.Get("/health", mgmtHandler.Health)
	r.Get("/api/info", mgmtHandler.Info)
	r.Handle("/metrics", cfg.Metrics.Handler())
	r.Get("/ws", wsHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAPIKey(cfg.APIKey))
		r.Use(RateLimit(cfg.RateLimit))

		r.Post("/chat/completions", openaiHandler.ChatCompletions)
		r.Post("/completions", openaiHandler.Completions)
		r.Get("/models", openaiHandler.Models)
	})

	r.Route("/management", func(r chi.Router) {
		if len(cfg.OperatorToken) > 0 {
			r.Post("/login", mgmtHandler.Login)
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireOperatorToken(cfg.OperatorToken, cfg.Management.Sessions))

			r.Get("/agents", mgmtHandler.ListAgents)
			r.Post("/agents/{agentId}/models/download", mgmtHandler.DownloadModel)

			r.Get("/mappings", mgmtHandler.ListMappings)
			r.Post("/mappings", mgmtHandler.CreateMapping)
			r.Delete("/mappings/{publicName}", mgmtHandler.DeleteMapping)
		})
	})

	return r
}
