package openai

import "github.com/arkeep-io/llmgateway/internal/gatewayerr"

// ValidateChatCompletionRequest checks req against the ranges and
// required fields of spec §6.2, returning a structured *gatewayerr.Error
// instead of panicking or returning a plain error — the façade never has
// to string-match a validator's output, per the REDESIGN FLAGS
// replacement for "exceptions for control flow at validation".
func ValidateChatCompletionRequest(req *ChatCompletionRequest) *gatewayerr.Error {
	if req.Model == "" {
		return gatewayerr.New(gatewayerr.KindMissingRequiredParameter, "model is required").WithParam("model")
	}
	if len(req.Messages) == 0 {
		return gatewayerr.New(gatewayerr.KindMissingRequiredParameter, "messages is required").WithParam("messages")
	}
	for _, m := range req.Messages {
		if m.Role == "" {
			return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "message role is required").WithParam("messages")
		}
	}
	return validateCommonRanges(req.MaxTokens, req.Temperature, req.TopP, req.PresencePenalty, req.FrequencyPenalty, req.N)
}

// ValidateCompletionRequest is the legacy-completion counterpart of
// ValidateChatCompletionRequest.
func ValidateCompletionRequest(req *CompletionRequest) *gatewayerr.Error {
	if req.Model == "" {
		return gatewayerr.New(gatewayerr.KindMissingRequiredParameter, "model is required").WithParam("model")
	}
	if req.Prompt == "" {
		return gatewayerr.New(gatewayerr.KindMissingRequiredParameter, "prompt is required").WithParam("prompt")
	}
	return validateCommonRanges(req.MaxTokens, req.Temperature, req.TopP, req.PresencePenalty, req.FrequencyPenalty, req.N)
}

func validateCommonRanges(maxTokens *int, temperature, topP, presencePenalty, frequencyPenalty *float64, n *int) *gatewayerr.Error {
	if maxTokens != nil && *maxTokens < 0 {
		return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "max_tokens must be non-negative").WithParam("max_tokens")
	}
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "temperature must be between 0 and 2").WithParam("temperature")
	}
	if topP != nil && (*topP < 0 || *topP > 1) {
		return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "top_p must be between 0 and 1").WithParam("top_p")
	}
	if presencePenalty != nil && (*presencePenalty < -2 || *presencePenalty > 2) {
		return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "presence_penalty must be between -2 and 2").WithParam("presence_penalty")
	}
	if frequencyPenalty != nil && (*frequencyPenalty < -2 || *frequencyPenalty > 2) {
		return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "frequency_penalty must be between -2 and 2").WithParam("frequency_penalty")
	}
	if n != nil && (*n < 1 || *n > 10) {
		return gatewayerr.New(gatewayerr.KindInvalidParameterValue, "n must be between 1 and 10").WithParam("n")
	}
	return nil
}
