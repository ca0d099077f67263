package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
	"github.com/arkeep-io/llmgateway/internal/metrics"
	"github.com/arkeep-io/llmgateway/internal/openai"
	"github.com/arkeep-io/llmgateway/internal/registry"
	"github.com/arkeep-io/llmgateway/internal/wsproto"
)

// Deps bundles the collaborators Dispatch needs: the agent registry (for
// the loaded-models check and pending-counter bookkeeping) and the RPC
// multiplexer (to actually call the agent). Bundling them keeps Dispatch's
// signature from growing every time a new collaborator is needed.
type Deps struct {
	Registry *registry.Registry
	RPC      *wsproto.RPC
	Table    *Table
	Logger   *zap.Logger
	// Metrics is optional; nil disables the broker latency histogram.
	Metrics *metrics.Metrics
}

type startModelResult struct {
	Models []string `json:"models"`
}

// Dispatch drives a Broker through NEW → LOADING → INVOKED (spec §4.6). It
// returns a live Broker on success; on any failure before INVOKED it
// returns a *gatewayerr.Error directly, since no broker survives to carry
// a terminal event in that case.
//
// args is the full chat/completion parameter object the façade built from
// the HTTP request; Dispatch adds requestId and model before forwarding it
// to the agent.
func Dispatch(ctx context.Context, deps Deps, agentID, kind, mode, model string, args map[string]any, deadline time.Duration) (*Broker, *gatewayerr.Error) {
	agent, ok := deps.Registry.Get(agentID)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindAgentDisconnected, "agent is no longer connected")
	}

	callID := uuid.NewString()
	b := newBroker(callID, agentID, kind, mode, deps.Logger)
	b.setState(StateLoading)

	// Registered and counted from LOADING onward, not just from INVOKED: a
	// model still loading on the agent is already "pending" work bound to
	// it, and the router's load-balancing decision must see that.
	deps.Table.Register(b)
	deps.Registry.BindRequest(callID, agentID)
	_ = deps.Registry.IncrementPending(agentID)

	abortLoading := func() {
		deps.Table.Unregister(callID)
		deps.Registry.UnbindRequest(callID)
		_ = deps.Registry.DecrementPending(agentID)
	}

	if !containsModel(agent.LoadedModels, model) {
		resultRaw, err := deps.RPC.Call(ctx, agentID, "startModel", map[string]any{"model": model})
		if err != nil {
			abortLoading()
			return nil, gatewayerr.New(gatewayerr.KindModelLoadFailed, err.Error())
		}
		var result startModelResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			abortLoading()
			return nil, gatewayerr.New(gatewayerr.KindModelLoadFailed, "malformed startModel result: "+err.Error())
		}
		for _, m := range result.Models {
			_ = deps.Registry.AddLoaded(agentID, m)
		}
	}

	b.setState(StateInvoked)
	b.cleanup = func() {
		deps.Table.Unregister(callID)
		deps.Registry.UnbindRequest(callID)
		_ = deps.Registry.DecrementPending(agentID)
		if deps.Metrics != nil {
			deps.Metrics.BrokerLatency.Observe(b.Elapsed().Seconds())
		}
	}
	// Best-effort: tell the agent to abort generation for this call_id on
	// timeout or client cancellation (spec §4.6 "Timeout and cancellation").
	// A failed Notify (agent already gone) is not itself an error — the
	// broker is terminating regardless.
	b.notifyStop = func() {
		if err := deps.RPC.Notify(agentID, "cancel", map[string]any{"call_id": callID}); err != nil {
			deps.Logger.Debug("broker: cancel notify failed", zap.String("call_id", callID), zap.Error(err))
		}
	}

	method := "chat"
	if kind == "completion" {
		method = "completion"
	}
	callArgs := make(map[string]any, len(args)+2)
	for k, v := range args {
		callArgs[k] = v
	}
	callArgs["requestId"] = callID
	callArgs["model"] = model

	go func() {
		if _, err := deps.RPC.Call(ctx, agentID, method, callArgs); err != nil {
			b.Fail(gatewayerr.New(gatewayerr.KindAgentDisconnected, err.Error()))
		}
	}()

	b.armDeadline(deadline)
	return b, nil
}

// dispatchChunk routes one receiveCompletion payload to b: the literal
// "[DONE]" marker finalizes the broker, anything else is forwarded as a
// chunk event.
func dispatchChunk(b *Broker, data json.RawMessage) {
	if openai.IsDone(data) {
		b.Finalize()
		return
	}
	b.HandleChunk(data)
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

// RegisterHandlers wires the gateway-callable agent RPC methods
// (receiveCompletion, error — spec §6.1) and the registry's removal
// listener into deps, so inbound chunks and agent disconnects reach the
// right live broker. Call once during lifecycle startup, after deps.RPC
// and deps.Registry both exist.
func RegisterHandlers(deps Deps) {
	deps.RPC.RegisterNotifyHandler("receiveCompletion", func(agentID string, args json.RawMessage) {
		var payload struct {
			RequestID string          `json:"requestId"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			deps.Logger.Warn("broker: malformed receiveCompletion notify", zap.String("agent_id", agentID), zap.Error(err))
			return
		}
		b, ok := deps.Table.Lookup(payload.RequestID)
		if !ok {
			return
		}
		dispatchChunk(b, payload.Data)
	})

	deps.RPC.RegisterNotifyHandler("error", func(agentID string, args json.RawMessage) {
		deps.Logger.Warn("broker: agent reported an error notification",
			zap.String("agent_id", agentID), zap.ByteString("args", args))
	})

	deps.Registry.SetRemovalListener(func(agentID string, boundCallIDs []string) {
		for _, callID := range boundCallIDs {
			if b, ok := deps.Table.Lookup(callID); ok {
				b.Fail(gatewayerr.New(gatewayerr.KindAgentDisconnected, "agent disconnected mid-stream"))
			}
		}
	})
}
