// Package wsproto implements the bidirectional RPC wire protocol that runs
// over a single WebSocket per connected agent (spec §4.1 Frame Transport
// and §4.2 RPC Multiplexer). It is the gateway's equivalent of the teacher
// repository's internal/websocket package (gorilla/websocket connection
// pumps) generalised from one-way pub/sub broadcast to a full bidirectional
// call/result/error/notify protocol.
package wsproto

import "encoding/json"

// FrameType identifies the kind of envelope carried by a Frame, per the
// bit-exact wire contract in spec §4.2.
type FrameType string

const (
	FrameCall   FrameType = "call"
	FrameResult FrameType = "result"
	FrameError  FrameType = "error"
	FrameNotify FrameType = "notify"
)

// Frame is the envelope for every message exchanged with an agent. Not
// every field is populated for every type — see the table in spec §4.2.
type Frame struct {
	Type FrameType `json:"type"`

	// ID correlates a call with its result/error. Required for
	// call/result/error; absent for fire-and-forget notify frames. The
	// gateway sends its notify frames without an ID (e.g. a cancel notify
	// keyed by call_id carries that call_id in Args, not in ID).
	ID string `json:"id,omitempty"`

	// Method names the RPC for call/notify frames.
	Method string `json:"method,omitempty"`

	// Args carries the call/notify payload. Left as json.RawMessage so the
	// multiplexer can dispatch before deciding how to unmarshal it —
	// unknown fields in nested payloads (e.g. a chunk's passthrough data)
	// are preserved verbatim rather than being lossily re-encoded.
	Args json.RawMessage `json:"args,omitempty"`

	// Value carries the result payload for a "result" frame.
	Value json.RawMessage `json:"value,omitempty"`

	// Error carries the error payload for an "error" frame.
	Error *FrameError `json:"error,omitempty"`
}

// FrameError is the error payload of an "error" frame.
type FrameError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
