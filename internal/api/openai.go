package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/broker"
	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
	"github.com/arkeep-io/llmgateway/internal/mapper"
	"github.com/arkeep-io/llmgateway/internal/metrics"
	"github.com/arkeep-io/llmgateway/internal/openai"
	"github.com/arkeep-io/llmgateway/internal/router"
)

// OpenAIHandler implements the OpenAI Façade (spec §4.7): it validates
// request bodies, translates the model name, picks an agent, drives a
// Request Broker, and renders the result as either an SSE stream or a
// buffered JSON envelope.
type OpenAIHandler struct {
	deps           broker.Deps
	mapper         *mapper.Mapper
	metrics        *metrics.Metrics
	brokerDeadline time.Duration
	logger         *zap.Logger
}

// NewOpenAIHandler constructs an OpenAIHandler. brokerDeadline is the
// default per-request deadline (spec §6.5 broker_deadline_ms); zero
// disables it.
func NewOpenAIHandler(deps broker.Deps, mp *mapper.Mapper, m *metrics.Metrics, brokerDeadline time.Duration) *OpenAIHandler {
	return &OpenAIHandler{deps: deps, mapper: mp, metrics: m, brokerDeadline: brokerDeadline, logger: deps.Logger}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAIHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, gatewayerr.New(gatewayerr.KindInvalidRequest, "invalid JSON body: "+err.Error()))
		return
	}
	if gerr := openai.ValidateChatCompletionRequest(&req); gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}

	args := map[string]any{"messages": req.Messages, "stream": req.Stream}
	addCommonArgs(args, req.MaxTokens, req.Temperature, req.TopP, req.PresencePenalty, req.FrequencyPenalty, req.N, req.Stop, req.LogitBias)

	promptChars := 0
	for _, m := range req.Messages {
		promptChars += len(m.Content)
	}

	b, gerr := h.dispatch(r.Context(), "chat", req.Model, req.Stream, args)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}

	if req.Stream {
		h.streamChat(w, r, b, req.Model)
		return
	}
	h.bufferChat(w, r, b, req.Model, promptChars)
}

// Completions handles POST /v1/completions.
func (h *OpenAIHandler) Completions(w http.ResponseWriter, r *http.Request) {
	var req openai.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, gatewayerr.New(gatewayerr.KindInvalidRequest, "invalid JSON body: "+err.Error()))
		return
	}
	if gerr := openai.ValidateCompletionRequest(&req); gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}

	args := map[string]any{"prompt": req.Prompt, "stream": req.Stream}
	addCommonArgs(args, req.MaxTokens, req.Temperature, req.TopP, req.PresencePenalty, req.FrequencyPenalty, req.N, req.Stop, req.LogitBias)
	if req.Logprobs != nil {
		args["logprobs"] = *req.Logprobs
	}

	b, gerr := h.dispatch(r.Context(), "completion", req.Model, req.Stream, args)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}

	if req.Stream {
		h.streamCompletion(w, r, b, req.Model)
		return
	}
	h.bufferCompletion(w, r, b, req.Model, len(req.Prompt))
}

// Models handles GET /v1/models: the union of every connected agent's
// installed models, translated to public names and deduplicated (spec §6.2
// / SPEC_FULL §2 C7 addition).
func (h *OpenAIHandler) Models(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]struct{})
	var names []string
	for _, a := range h.deps.Registry.List() {
		for _, internal := range a.InstalledModels {
			public, err := h.mapper.InternalToPublic(internal)
			if err != nil {
				continue
			}
			if _, ok := seen[public]; ok {
				continue
			}
			seen[public] = struct{}{}
			names = append(names, public)
		}
	}
	sort.Strings(names)

	resp := openai.ModelsResponse{Object: "list"}
	for _, n := range names {
		resp.Data = append(resp.Data, openai.ModelInfo{ID: n, Object: "model", OwnedBy: "local"})
	}
	writeJSON(w, http.StatusOK, resp)
}

func addCommonArgs(args map[string]any, maxTokens *int, temperature, topP, presencePenalty, frequencyPenalty *float64, n *int, stop json.RawMessage, logitBias map[string]float64) {
	if maxTokens != nil {
		args["max_tokens"] = *maxTokens
	}
	if temperature != nil {
		args["temperature"] = *temperature
	}
	if topP != nil {
		args["top_p"] = *topP
	}
	if presencePenalty != nil {
		args["presence_penalty"] = *presencePenalty
	}
	if frequencyPenalty != nil {
		args["frequency_penalty"] = *frequencyPenalty
	}
	if n != nil {
		args["n"] = *n
	}
	if len(stop) > 0 {
		args["stop"] = stop
	}
	if len(logitBias) > 0 {
		args["logit_bias"] = logitBias
	}
}

// dispatch resolves the public model name, picks an agent, and drives the
// broker through NEW→LOADING→INVOKED (spec §4.5/§4.6), recording the
// dispatch-counter metric on every outcome.
func (h *OpenAIHandler) dispatch(ctx context.Context, kind, publicModel string, stream bool, args map[string]any) (*broker.Broker, *gatewayerr.Error) {
	internalModel, err := h.mapper.PublicToInternal(publicModel)
	if err != nil {
		h.metrics.ObserveDispatch(kind, "model_not_found")
		return nil, gatewayerr.New(gatewayerr.KindModelNotFound, "no model mapping for "+publicModel)
	}

	agent, err := router.Select(h.deps.Registry.List(), internalModel)
	if err != nil {
		h.metrics.ObserveDispatch(kind, "no_available_agents")
		return nil, gatewayerr.New(gatewayerr.KindNoAvailableAgents, "no connected agent has "+internalModel+" installed")
	}

	mode := "buffered"
	if stream {
		mode = "stream"
	}

	b, gerr := broker.Dispatch(ctx, h.deps, agent.ID, kind, mode, internalModel, args, h.brokerDeadline)
	if gerr != nil {
		h.metrics.ObserveDispatch(kind, string(gerr.Kind))
		return nil, gerr
	}
	h.metrics.ObserveDispatch(kind, "dispatched")
	h.metrics.ActiveStreams.Inc()
	return b, nil
}

// sseWriter flushes each write immediately; every SSE render path uses it
// so a slow client never buffers an entire response before the first byte
// is visible.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return sseWriter{w: w, flusher: flusher}
}

func (s sseWriter) writeRaw(data json.RawMessage) {
	_, _ = s.w.Write([]byte("data: "))
	_, _ = s.w.Write(data)
	_, _ = s.w.Write([]byte("\n\n"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s sseWriter) writeDone() {
	_, _ = s.w.Write([]byte("data: [DONE]\n\n"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s sseWriter) writeError(err *gatewayerr.Error) {
	body, _ := json.Marshal(openai.ErrorEnvelope{Error: openai.ErrorBody{
		Message: err.Message,
		Type:    err.Kind.OpenAIType(),
		Code:    string(err.Kind),
	}})
	_, _ = s.w.Write([]byte("data: "))
	_, _ = s.w.Write(body)
	_, _ = s.w.Write([]byte("\n\n"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// streamChat and streamCompletion share the same event-draining shape:
// forward chunks verbatim, terminate on [DONE] or error, and cancel the
// broker if the HTTP client disconnects first (spec §4.6 "Timeout and
// cancellation").
func (h *OpenAIHandler) streamChat(w http.ResponseWriter, r *http.Request, b *broker.Broker, publicModel string) {
	w.Header().Set("X-Request-ID", b.CallID)
	sse := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)
	h.drainStream(r.Context(), b, sse)
}

func (h *OpenAIHandler) streamCompletion(w http.ResponseWriter, r *http.Request, b *broker.Broker, publicModel string) {
	w.Header().Set("X-Request-ID", b.CallID)
	sse := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)
	h.drainStream(r.Context(), b, sse)
}

func (h *OpenAIHandler) drainStream(ctx context.Context, b *broker.Broker, sse sseWriter) {
	defer h.metrics.ActiveStreams.Dec()
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case broker.EventChunk:
				sse.writeRaw(ev.Data)
			case broker.EventDone:
				sse.writeDone()
				return
			case broker.EventError:
				sse.writeError(ev.Err)
				return
			}
		case <-ctx.Done():
			b.Cancel()
			return
		}
	}
}

func (h *OpenAIHandler) bufferChat(w http.ResponseWriter, r *http.Request, b *broker.Broker, publicModel string, promptChars int) {
	defer h.metrics.ActiveStreams.Dec()
	chunks, gerr := collectChunks(r.Context(), b)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}
	resp, gerr := openai.AssembleChatCompletion(chunks)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}
	resp.Model = publicModel
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	resp.Usage = approximateUsage(promptChars, len(resp.Choices[0].Message.Content))
	writeJSON(w, http.StatusOK, resp)
}

func (h *OpenAIHandler) bufferCompletion(w http.ResponseWriter, r *http.Request, b *broker.Broker, publicModel string, promptChars int) {
	defer h.metrics.ActiveStreams.Dec()
	chunks, gerr := collectChunks(r.Context(), b)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}
	resp, gerr := openai.AssembleCompletion(chunks)
	if gerr != nil {
		writeOpenAIError(w, gerr)
		return
	}
	resp.Model = publicModel
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	resp.Usage = approximateUsage(promptChars, len(resp.Choices[0].Text))
	writeJSON(w, http.StatusOK, resp)
}

// collectChunks drains b's event channel into a buffered-mode chunk list,
// per spec §4.6's buffered assembly rules, cancelling the broker if the
// client disconnects before the terminal event arrives.
func collectChunks(ctx context.Context, b *broker.Broker) ([]json.RawMessage, *gatewayerr.Error) {
	var chunks []json.RawMessage
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return chunks, nil
			}
			switch ev.Kind {
			case broker.EventChunk:
				chunks = append(chunks, ev.Data)
			case broker.EventDone:
				return chunks, nil
			case broker.EventError:
				return nil, ev.Err
			}
		case <-ctx.Done():
			b.Cancel()
			return nil, gatewayerr.New(gatewayerr.KindClientCancelled, "client disconnected")
		}
	}
}

// approximateUsage implements SPEC_FULL §11's open-question resolution:
// usage is reported as characters/4, matching the source's own approximate
// accounting (spec §9); with no prompt or completion text every count is
// zero.
func approximateUsage(promptChars, completionChars int) *openai.Usage {
	if promptChars == 0 && completionChars == 0 {
		return &openai.Usage{}
	}
	return &openai.Usage{
		PromptTokens:     promptChars / 4,
		CompletionTokens: completionChars / 4,
		TotalTokens:      (promptChars + completionChars) / 4,
	}
}
