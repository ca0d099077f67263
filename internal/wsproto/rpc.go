package wsproto

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/metrics"
)

// ErrCallTimeout is returned by Call when no result/error frame arrives
// within the configured call timeout.
var ErrCallTimeout = fmt.Errorf("wsproto: call timed out")

// ErrTransportClosed is returned to any outstanding Call whose agent
// connection closes before a reply arrives.
var ErrTransportClosed = fmt.Errorf("wsproto: transport closed")

// CallHandler answers an inbound "call" frame from an agent. The returned
// value is marshalled into the result frame's value field; a non-nil error
// produces an error frame instead, carrying err.Error() as the message.
type CallHandler func(ctx context.Context, agentID string, args json.RawMessage) (any, error)

// NotifyHandler reacts to an inbound "notify" frame from an agent. It has
// no reply — notify is fire-and-forget in both directions, per spec §4.2.
type NotifyHandler func(agentID string, args json.RawMessage)

// LifecycleHandlers are invoked as agent connections open and close. The
// lifecycle component (cmd/gatewayd) wires these in after constructing
// both the RPC multiplexer and the registry, a two-phase wire-up that
// keeps the two packages free of imports of each other.
type LifecycleHandlers struct {
	OnOpen  func(agentID, name string, installedModels []string)
	OnClose func(agentID string)
}

type pendingCall struct {
	agentID string
	reply   chan callReply
}

type callReply struct {
	value json.RawMessage
	err   *FrameError
}

// RPC is the bidirectional call/result/error/notify multiplexer of spec
// §4.2, layered over a Transport. It tracks outbound calls awaiting a
// reply, dispatches inbound calls to a method handler table, and routes
// inbound notify frames (agent push events such as receiveCompletion
// chunks) to registered listeners.
type RPC struct {
	transport   *Transport
	callTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall

	callHandlers   map[string]CallHandler
	notifyHandlers map[string]NotifyHandler
	lifecycle      LifecycleHandlers
	metrics        *metrics.Metrics
}

// NewRPC constructs an RPC multiplexer bound to transport and immediately
// wires itself as the transport's frame handler. callTimeout bounds every
// outbound Call; zero disables the timeout (not recommended outside
// tests).
func NewRPC(transport *Transport, callTimeout time.Duration, logger *zap.Logger) *RPC {
	r := &RPC{
		transport:      transport,
		callTimeout:    callTimeout,
		logger:         logger.Named("wsproto.rpc"),
		pending:        make(map[string]*pendingCall),
		callHandlers:   make(map[string]CallHandler),
		notifyHandlers: make(map[string]NotifyHandler),
	}
	transport.SetHandlers(Handlers{
		OnOpen:  r.handleOpen,
		OnFrame: r.handleFrame,
		OnClose: r.handleClose,
	})
	return r
}

// SetLifecycleHandlers wires the open/close callbacks forwarded from the
// transport. Called once by the lifecycle component after both the
// registry and the RPC multiplexer exist.
func (r *RPC) SetLifecycleHandlers(h LifecycleHandlers) {
	r.lifecycle = h
}

// SetMetrics wires the RPC multiplexer to m, so Call keeps the
// open_calls gauge current. Optional: an RPC with no metrics set
// behaves exactly as before.
func (r *RPC) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// RegisterCallHandler installs the handler invoked for inbound calls named
// method. Registering the same method twice overwrites the prior handler.
func (r *RPC) RegisterCallHandler(method string, h CallHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callHandlers[method] = h
}

// RegisterNotifyHandler installs the handler invoked for inbound notify
// frames named method.
func (r *RPC) RegisterNotifyHandler(method string, h NotifyHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifyHandlers[method] = h
}

// Call sends a call frame to agentID and blocks until a matching
// result/error frame arrives, ctx is cancelled, the call timeout elapses,
// or the agent's connection closes. The returned json.RawMessage is the
// result frame's value field.
func (r *RPC) Call(ctx context.Context, agentID, method string, args any) (json.RawMessage, error) {
	conn, ok := r.transport.Get(agentID)
	if !ok {
		return nil, ErrNotConnected
	}

	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("wsproto: marshal call args: %w", err)
	}

	id := uuid.NewString()
	pc := &pendingCall{agentID: agentID, reply: make(chan callReply, 1)}

	r.mu.Lock()
	r.pending[id] = pc
	m := r.metrics
	r.mu.Unlock()

	if m != nil {
		m.OpenRPCCalls.Inc()
	}

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		m := r.metrics
		r.mu.Unlock()
		if m != nil {
			m.OpenRPCCalls.Dec()
		}
	}()

	if err := conn.Send(Frame{Type: FrameCall, ID: id, Method: method, Args: encodedArgs}); err != nil {
		return nil, err
	}

	var timeoutC <-chan time.Time
	if r.callTimeout > 0 {
		timer := time.NewTimer(r.callTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case reply := <-pc.reply:
		if reply.err != nil {
			if reply.err.Code == "transport_closed" {
				return nil, ErrTransportClosed
			}
			return nil, &CallError{Method: method, Message: reply.err.Message, Code: reply.err.Code}
		}
		return reply.value, nil
	case <-timeoutC:
		return nil, ErrCallTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notify frame to agentID. Method names the
// event; args is marshalled into the frame's args field.
func (r *RPC) Notify(agentID, method string, args any) error {
	conn, ok := r.transport.Get(agentID)
	if !ok {
		return ErrNotConnected
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("wsproto: marshal notify args: %w", err)
	}
	return conn.Send(Frame{Type: FrameNotify, Method: method, Args: encoded})
}

// CallError wraps the error payload of a "error" reply frame so callers
// can distinguish an agent-reported failure from a transport failure.
type CallError struct {
	Method  string
	Message string
	Code    string
}

func (e *CallError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wsproto: %s: %s (%s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("wsproto: %s: %s", e.Method, e.Message)
}

func (r *RPC) handleOpen(agentID, name string, installedModels []string) {
	if r.lifecycle.OnOpen != nil {
		r.lifecycle.OnOpen(agentID, name, installedModels)
	}
}

func (r *RPC) handleClose(agentID string) {
	r.mu.Lock()
	var toFail []*pendingCall
	for id, pc := range r.pending {
		if pc.agentID == agentID {
			toFail = append(toFail, pc)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, pc := range toFail {
		select {
		case pc.reply <- callReply{err: &FrameError{Message: ErrTransportClosed.Error(), Code: "transport_closed"}}:
		default:
		}
	}

	if r.lifecycle.OnClose != nil {
		r.lifecycle.OnClose(agentID)
	}
}

func (r *RPC) handleFrame(conn *Conn, frame Frame) {
	switch frame.Type {
	case FrameResult, FrameError:
		r.resolveCall(frame)

	case FrameCall:
		r.dispatchCall(conn, frame)

	case FrameNotify:
		r.dispatchNotify(conn, frame)

	default:
		r.logger.Warn("wsproto: ignoring frame with unknown type",
			zap.String("agent_id", conn.AgentID), zap.String("type", string(frame.Type)))
	}
}

func (r *RPC) resolveCall(frame Frame) {
	r.mu.Lock()
	pc, ok := r.pending[frame.ID]
	if ok {
		delete(r.pending, frame.ID)
	}
	r.mu.Unlock()

	if !ok {
		// Reply for a call we no longer track — already timed out or the
		// agent double-replied. Drop it.
		return
	}

	if frame.Type == FrameError {
		fe := frame.Error
		if fe == nil {
			fe = &FrameError{Message: "agent returned an error frame with no error payload"}
		}
		pc.reply <- callReply{err: fe}
		return
	}
	pc.reply <- callReply{value: frame.Value}
}

func (r *RPC) dispatchCall(conn *Conn, frame Frame) {
	r.mu.Lock()
	handler, ok := r.callHandlers[frame.Method]
	r.mu.Unlock()

	if !ok {
		_ = conn.Send(Frame{Type: FrameError, ID: frame.ID, Error: &FrameError{
			Message: fmt.Sprintf("unknown method %q", frame.Method),
			Code:    "unknown_method",
		}})
		return
	}

	go func() {
		ctx := context.Background()
		value, err := handler(ctx, conn.AgentID, frame.Args)
		if err != nil {
			_ = conn.Send(Frame{Type: FrameError, ID: frame.ID, Error: &FrameError{Message: err.Error()}})
			return
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			_ = conn.Send(Frame{Type: FrameError, ID: frame.ID, Error: &FrameError{
				Message: fmt.Sprintf("marshal result: %v", err),
			}})
			return
		}
		_ = conn.Send(Frame{Type: FrameResult, ID: frame.ID, Value: encoded})
	}()
}

func (r *RPC) dispatchNotify(conn *Conn, frame Frame) {
	r.mu.Lock()
	handler, ok := r.notifyHandlers[frame.Method]
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("wsproto: no handler for notify method",
			zap.String("agent_id", conn.AgentID), zap.String("method", frame.Method))
		return
	}
	handler(conn.AgentID, frame.Args)
}
