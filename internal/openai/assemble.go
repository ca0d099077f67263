package openai

import (
	"encoding/json"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
)

// AssembleChatCompletion implements the buffered-mode assembly rules of
// spec §4.6 for chat completions: the first chunk seeds id/created/model,
// delta.content is concatenated, the last non-empty tool_calls array wins,
// and the final chunk's finish_reason is kept.
func AssembleChatCompletion(chunks []json.RawMessage) (*ChatCompletionResponse, *gatewayerr.Error) {
	if len(chunks) == 0 {
		return nil, gatewayerr.New(gatewayerr.KindEmptyResponse, "agent produced no chunks before completion")
	}

	resp := &ChatCompletionResponse{Object: "chat.completion"}
	var content []byte
	var toolCalls []ToolCall
	finishReason := "stop"
	seeded := false

	for _, raw := range chunks {
		var chunk ChatCompletionChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			continue
		}
		if !seeded {
			resp.ID = chunk.ID
			resp.Created = chunk.Created
			resp.Model = chunk.Model
			seeded = true
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		content = append(content, choice.Delta.Content...)
		if len(choice.Delta.ToolCalls) > 0 {
			toolCalls = choice.Delta.ToolCalls
		}
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}
	}

	resp.Choices = []ChatCompletionChoice{{
		Index: 0,
		Message: Message{
			Role:      "assistant",
			Content:   string(content),
			ToolCalls: toolCalls,
		},
		FinishReason: finishReason,
	}}
	return resp, nil
}

// AssembleCompletion is the legacy-completion counterpart of
// AssembleChatCompletion: choices[0].text is concatenated across chunks.
func AssembleCompletion(chunks []json.RawMessage) (*CompletionResponse, *gatewayerr.Error) {
	if len(chunks) == 0 {
		return nil, gatewayerr.New(gatewayerr.KindEmptyResponse, "agent produced no chunks before completion")
	}

	resp := &CompletionResponse{Object: "text_completion"}
	var text []byte
	finishReason := "stop"
	seeded := false

	for _, raw := range chunks {
		var chunk CompletionChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			continue
		}
		if !seeded {
			resp.ID = chunk.ID
			resp.Created = chunk.Created
			resp.Model = chunk.Model
			seeded = true
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		text = append(text, choice.Text...)
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}
	}

	resp.Choices = []CompletionChoice{{
		Index:        0,
		Text:         string(text),
		FinishReason: finishReason,
	}}
	return resp, nil
}
