// Package openai defines the wire types of the OpenAI-compatible HTTP API
// (spec §6.2) and the chunk shapes agents stream back over RPC push. It is
// pure data plus validation — no HTTP, no transport — grounded on the
// teacher's internal/api request/response struct conventions (plain
// structs with json tags, a ToResponse-style render boundary) adapted from
// arkeep's backup/destination DTOs to the OpenAI chat/completion shapes.
package openai

import (
	"bytes"
	"encoding/json"
)

// Message is one chat turn.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall mirrors the OpenAI tool-call shape carried on assistant
// messages and streamed delta chunks.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc is the function-call payload of a ToolCall.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model            string             `json:"model"`
	Messages         []Message          `json:"messages"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	N                *int               `json:"n,omitempty"`
	Stop             json.RawMessage    `json:"stop,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
}

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Model            string             `json:"model"`
	Prompt           string             `json:"prompt"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	N                *int               `json:"n,omitempty"`
	Stop             json.RawMessage    `json:"stop,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	Logprobs         *int               `json:"logprobs,omitempty"`
}

// Usage reports token counts on a buffered response. The gateway fills
// them with an approximation (characters/4) of the prompt and completion
// text, and reports zero when there is no text; counts sent by the agent
// are not read.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChoice is one entry of a chat completion's choices array.
type ChatCompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionResponse is the buffered-mode JSON envelope for
// POST /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []ChatCompletionChoice  `json:"choices"`
	Usage   *Usage                  `json:"usage,omitempty"`
}

// CompletionChoice is one entry of a legacy completion's choices array.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// CompletionResponse is the buffered-mode JSON envelope for
// POST /v1/completions.
type CompletionResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []CompletionChoice  `json:"choices"`
	Usage   *Usage              `json:"usage,omitempty"`
}

// ChatCompletionChunkDelta is the incremental content of one streamed chat
// chunk.
type ChatCompletionChunkDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletionChunkChoice is one choices[] entry of a streamed chat
// chunk.
type ChatCompletionChunkChoice struct {
	Index        int                      `json:"index"`
	Delta        ChatCompletionChunkDelta `json:"delta"`
	FinishReason *string                  `json:"finish_reason"`
}

// ChatCompletionChunk is the shape of one agent-sent chat chunk, as
// forwarded verbatim (less re-encoding of unknown fields) in streaming
// mode and accumulated per spec §4.6 in buffered mode.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// CompletionChunkChoice is one choices[] entry of a streamed legacy
// completion chunk.
type CompletionChunkChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

// CompletionChunk is the shape of one agent-sent legacy-completion chunk.
type CompletionChunk struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []CompletionChunkChoice `json:"choices"`
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorBody is the inner "error" object of the OpenAI error envelope
// (spec §6.2).
type ErrorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    string  `json:"code"`
	Param   *string `json:"param,omitempty"`
}

// ErrorEnvelope is the top-level OpenAI error response body.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// doneMarker is the literal JSON string an agent sends to signal the
// terminal chunk of a stream, per spec §4.6/§6.1.
const doneMarker = `"[DONE]"`

// IsDone reports whether a raw notify data payload is the literal
// "[DONE]" marker.
func IsDone(data json.RawMessage) bool {
	return string(bytes.TrimSpace(data)) == doneMarker
}
