// Package api implements the gateway's two HTTP façades: the
// OpenAI-compatible surface (spec §4.7/§6.2) and the management surface
// (spec §4.8/§6.3), plus the agent WebSocket upgrade endpoint (spec §4.1).
// Routing uses chi, exactly as the teacher's internal/api package does;
// the response shapes differ because the two façades speak two different
// wire contracts (OpenAI error envelopes vs a generic {"data"}/{"error"}
// envelope) that must never bleed into each other.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
	"github.com/arkeep-io/llmgateway/internal/openai"
)

// writeJSON writes a JSON-encoded response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOpenAIError renders a *gatewayerr.Error as the OpenAI-shaped error
// envelope spec §6.2/§7 specifies, with the status code the taxonomy
// table assigns to its kind.
func writeOpenAIError(w http.ResponseWriter, err *gatewayerr.Error) {
	body := openai.ErrorEnvelope{
		Error: openai.ErrorBody{
			Message: err.Message,
			Type:    err.Kind.OpenAIType(),
			Code:    string(err.Kind),
		},
	}
	if err.Param != "" {
		param := err.Param
		body.Error.Param = &param
	}
	writeJSON(w, err.Kind.HTTPStatus(), body)
}

// envelope is the generic response wrapper used by the management façade,
// matching the teacher's internal/api/response.go envelope convention.
type envelope map[string]any

func mgmtOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{"data": payload})
}

func mgmtCreated(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusCreated, envelope{"data": payload})
}

func mgmtNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

type mgmtErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func mgmtError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, envelope{"error": mgmtErrorBody{Message: message, Code: code}})
}

func mgmtBadRequest(w http.ResponseWriter, message string) {
	mgmtError(w, http.StatusBadRequest, message, "bad_request")
}

func mgmtNotFound(w http.ResponseWriter, message string) {
	mgmtError(w, http.StatusNotFound, message, "not_found")
}

func mgmtConflict(w http.ResponseWriter, message string) {
	mgmtError(w, http.StatusConflict, message, "conflict")
}

func mgmtInternal(w http.ResponseWriter) {
	mgmtError(w, http.StatusInternalServerError, "an internal error occurred", "internal_error")
}

func mgmtUnauthorized(w http.ResponseWriter) {
	mgmtError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
}

// decodeJSON decodes the request body into dst. Unlike the OpenAI façade's
// decoding (which must tolerate fields this gateway does not model), the
// management façade's request shapes are small and fully owned by this
// repository, so unknown fields are rejected — a typo in a client request
// fails loudly instead of being silently ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		mgmtBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
