package openai_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
	"github.com/arkeep-io/llmgateway/internal/openai"
)

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestAssembleChatCompletion_NoChunks(t *testing.T) {
	resp, err := openai.AssembleChatCompletion(nil)
	assert.Nil(t, resp)
	require.NotNil(t, err)
	assert.Equal(t, gatewayerr.KindEmptyResponse, err.Kind)
}

func TestAssembleChatCompletion_ConcatenatesContent(t *testing.T) {
	finishReason := "stop"
	chunks := []json.RawMessage{
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "chatcmpl-1", Created: 100, Model: "llama3",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{Role: "assistant", Content: "Hel"}}},
		}),
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "chatcmpl-1", Created: 100, Model: "llama3",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{Content: "lo"}}},
		}),
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "chatcmpl-1", Created: 100, Model: "llama3",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{}, FinishReason: &finishReason}},
		}),
	}

	resp, gerr := openai.AssembleChatCompletion(chunks)
	require.Nil(t, gerr)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, "chat.completion", resp.Object)
}

func TestAssembleChatCompletion_LastNonEmptyToolCallsWins(t *testing.T) {
	toolCallA := openai.ToolCall{ID: "call-a", Type: "function", Function: openai.ToolCallFunc{Name: "foo"}}
	toolCallB := openai.ToolCall{ID: "call-b", Type: "function", Function: openai.ToolCallFunc{Name: "bar"}}

	chunks := []json.RawMessage{
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "c1",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{ToolCalls: []openai.ToolCall{toolCallA}}}},
		}),
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "c1",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{}}},
		}),
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "c1",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{ToolCalls: []openai.ToolCall{toolCallB}}}},
		}),
	}

	resp, gerr := openai.AssembleChatCompletion(chunks)
	require.Nil(t, gerr)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "call-b", resp.Choices[0].Message.ToolCalls[0].ID)
}

func TestAssembleChatCompletion_SkipsUnparsableChunks(t *testing.T) {
	chunks := []json.RawMessage{
		json.RawMessage(`not json`),
		mustRaw(t, openai.ChatCompletionChunk{
			ID: "c1",
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkDelta{Content: "ok"}}},
		}),
	}
	resp, gerr := openai.AssembleChatCompletion(chunks)
	require.Nil(t, gerr)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
}

func TestAssembleCompletion_NoChunks(t *testing.T) {
	resp, err := openai.AssembleCompletion(nil)
	assert.Nil(t, resp)
	require.NotNil(t, err)
	assert.Equal(t, gatewayerr.KindEmptyResponse, err.Kind)
}

func TestAssembleCompletion_ConcatenatesText(t *testing.T) {
	finishReason := "length"
	chunks := []json.RawMessage{
		mustRaw(t, openai.CompletionChunk{
			ID: "cmpl-1", Created: 50, Model: "mistral",
			Choices: []openai.CompletionChunkChoice{{Text: "foo"}},
		}),
		mustRaw(t, openai.CompletionChunk{
			ID: "cmpl-1", Created: 50, Model: "mistral",
			Choices: []openai.CompletionChunkChoice{{Text: "bar", FinishReason: &finishReason}},
		}),
	}

	resp, gerr := openai.AssembleCompletion(chunks)
	require.Nil(t, gerr)
	assert.Equal(t, "foobar", resp.Choices[0].Text)
	assert.Equal(t, "length", resp.Choices[0].FinishReason)
	assert.Equal(t, "text_completion", resp.Object)
}
