package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/wsproto"
)

// WSHandler wraps the wsproto Transport's HTTP upgrade endpoint (spec
// §4.1). Identity/auth/duplicate rejections are already delivered to the
// peer as a WebSocket close frame by Accept itself (policy_violation,
// spec §4.1 and end-to-end scenario 6); ServeHTTP only has to log them,
// since the HTTP response was already committed by the upgrade.
type WSHandler struct {
	transport *wsproto.Transport
	logger    *zap.Logger
}

// NewWSHandler constructs a WSHandler bound to transport.
func NewWSHandler(transport *wsproto.Transport, logger *zap.Logger) *WSHandler {
	return &WSHandler{transport: transport, logger: logger.Named("ws")}
}

// ServeHTTP handles GET /ws, the agent connection endpoint. Accept blocks
// for the lifetime of the connection, so this handler does not return
// until the agent disconnects.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.transport.Accept(w, r)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, wsproto.ErrMissingIdentity),
		errors.Is(err, wsproto.ErrUnauthorized),
		errors.Is(err, wsproto.ErrDuplicateAgent):
		h.logger.Warn("ws: rejected agent connection", zap.Error(err))
	default:
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		http.Error(w, "failed to establish connection", http.StatusInternalServerError)
	}
}
