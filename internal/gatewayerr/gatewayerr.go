// Package gatewayerr defines the error taxonomy of spec §7: a closed set
// of error kinds shared by the validator, the broker, and the OpenAI
// façade, each carrying its own HTTP status and OpenAI envelope "type".
// Grounded on the teacher's internal/api/response.go APIError convention,
// generalised from a single flat error code to the two-dimensional
// kind→(status,type) table this spec requires.
package gatewayerr

// Kind is one of the closed set of error kinds from spec §7. It doubles
// as the "code" field of the OpenAI error envelope.
type Kind string

const (
	KindInvalidRequest           Kind = "invalid_request_error"
	KindMissingRequiredParameter Kind = "missing_required_parameter"
	KindInvalidParameterValue    Kind = "invalid_parameter_value"
	KindModelNotFound            Kind = "model_not_found"
	KindAuthentication           Kind = "authentication_error"
	KindRateLimitExceeded        Kind = "rate_limit_exceeded"
	KindNoAvailableAgents        Kind = "no_available_agents"
	KindModelLoadFailed          Kind = "model_load_failed"
	KindAgentDisconnected        Kind = "agent_disconnected"
	KindTimeout                  Kind = "timeout"
	KindClientCancelled          Kind = "client_cancelled"
	KindServerError              Kind = "server_error"

	// KindEmptyResponse covers spec §4.6's "no chunks arrived before
	// [DONE]" case. It is not in the §7 taxonomy table verbatim, but the
	// buffered-assembly rule requires a distinct failure kind for it.
	KindEmptyResponse Kind = "empty_response"

	// KindServerShutdown fails every in-flight broker when the process is
	// gracefully shutting down (spec §4.9), so a client can distinguish an
	// intentional shutdown from its agent dropping out from under it.
	KindServerShutdown Kind = "server_shutdown"
)

// HTTPStatus returns the status code spec §7 assigns to this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindMissingRequiredParameter, KindInvalidParameterValue, KindModelNotFound:
		return 400
	case KindAuthentication:
		return 401
	case KindRateLimitExceeded:
		return 429
	case KindNoAvailableAgents, KindModelLoadFailed, KindAgentDisconnected, KindServerShutdown:
		return 503
	case KindTimeout:
		return 504
	default:
		return 500
	}
}

// OpenAIType returns the envelope "type" field the OpenAI wire format
// expects for this kind.
func (k Kind) OpenAIType() string {
	switch k {
	case KindInvalidRequest, KindMissingRequiredParameter, KindInvalidParameterValue, KindModelNotFound:
		return "invalid_request_error"
	case KindAuthentication:
		return "authentication_error"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindNoAvailableAgents, KindModelLoadFailed, KindAgentDisconnected, KindServerShutdown:
		return "service_unavailable_error"
	case KindTimeout:
		return "timeout_error"
	default:
		return "server_error"
	}
}

// Error is a gateway-taxonomy error. It implements the standard error
// interface and carries enough structure for the façade to render the
// OpenAI envelope directly, with no string parsing.
type Error struct {
	Kind    Kind
	Message string
	// Param names the offending request field, for invalid_parameter_value
	// / missing_required_parameter kinds. Empty otherwise.
	Param string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithParam attaches the offending field name and returns the receiver,
// for chaining at the validation call site.
func (e *Error) WithParam(param string) *Error {
	e.Param = param
	return e
}
