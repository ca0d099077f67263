// Package broker implements the Request Broker component (spec §4.6): a
// per-request state machine that dispatches a chat/completion call to an
// agent, owns the single-consumer channel of chunk events streamed back
// over RPC push, and guarantees exactly one terminal event per request
// (spec P3). Grounded on the teacher's job-run lifecycle in
// internal/scheduler (state transitions guarded by a mutex, one-shot
// completion via a closed flag checked under that mutex) generalised from a fire-and-collect batch job
// into a streaming request/response cycle.
package broker

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
)

// State is one point in the Broker's lifecycle (spec §4.6 state machine).
type State int

const (
	StateNew State = iota
	StateLoading
	StateInvoked
	StateFinalised
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoading:
		return "loading"
	case StateInvoked:
		return "invoked"
	case StateFinalised:
		return "finalised"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind discriminates the payload carried by an Event.
type EventKind int

const (
	// EventChunk carries one incremental generation chunk, verbatim as the
	// agent sent it.
	EventChunk EventKind = iota
	// EventDone signals the single successful terminal event.
	EventDone
	// EventError signals the single failure terminal event.
	EventError
)

// Event is one item on a Broker's event channel — the single-consumer
// channel of chunk events the REDESIGN FLAGS call for in place of a
// promise/async-generator streaming model.
type Event struct {
	Kind EventKind
	Data json.RawMessage
	Err  *gatewayerr.Error
}

// Broker is one in-flight request's coordination object. Its exported
// surface is deliberately small: Dispatch (in dispatch.go) constructs and
// drives it, the façade reads CallID/Kind/Mode, ranges over Events(), and
// calls Cancel() when its HTTP client goes away.
type Broker struct {
	CallID  string
	AgentID string
	Kind    string // "completion" | "chat"
	Mode    string // "stream" | "buffered"

	mu     sync.Mutex
	state  State
	closed bool

	events chan Event

	deadline  *time.Timer
	createdAt time.Time

	cleanup    func() // set by Dispatch; unbinds registry state, stops timers
	notifyStop func() // set by Dispatch; best-effort "cancel" notify to the agent
	logger     *zap.Logger
}

func newBroker(callID, agentID, kind, mode string, logger *zap.Logger) *Broker {
	return &Broker{
		CallID:    callID,
		AgentID:   agentID,
		Kind:      kind,
		Mode:      mode,
		state:     StateNew,
		events:    make(chan Event, 64),
		logger:    logger,
		createdAt: time.Now(),
	}
}

// Elapsed reports how long b has existed, from construction to now —
// used to observe the broker latency histogram from cleanup.
func (b *Broker) Elapsed() time.Duration {
	return time.Since(b.createdAt)
}

// State returns the broker's current state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Broker) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Events returns the single-consumer channel of chunk/done/error events.
// It is closed exactly once, immediately after the sole terminal event is
// sent.
func (b *Broker) Events() <-chan Event {
	return b.events
}

// HandleChunk is invoked by the receiveCompletion notify handler for
// every chunk addressed to this broker's call_id, in wire order (spec
// P4). The handler itself recognises the literal "[DONE]" marker and
// calls Finalize instead, so HandleChunk forwards whatever data it is
// given as a chunk event.
//
// The state check, closed check, and channel send all happen under the
// same lock as Finalize/Fail's close, so a chunk can never race a
// terminal event into a send on a closed channel.
func (b *Broker) HandleChunk(data json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.state != StateInvoked {
		return
	}
	select {
	case b.events <- Event{Kind: EventChunk, Data: data}:
	default:
		b.logger.Warn("broker: event channel full, dropping chunk", zap.String("call_id", b.CallID))
	}
}

// Finalize delivers the single success terminal event and runs cleanup
// exactly once (spec P3 "exactly one terminal event").
func (b *Broker) Finalize() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.state = StateFinalised
	b.events <- Event{Kind: EventDone}
	close(b.events)
	b.mu.Unlock()

	b.runCleanup()
}

// Fail delivers the single failure terminal event and runs cleanup
// exactly once. Safe to call from any state, including before INVOKED
// (e.g. the agent disconnecting while its model loads) and concurrently with Finalize — only one
// of the two ever takes effect, per spec P3.
func (b *Broker) Fail(err *gatewayerr.Error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.state = StateFailed
	b.events <- Event{Kind: EventError, Err: err}
	close(b.events)
	b.mu.Unlock()

	if b.notifyStop != nil && (err.Kind == gatewayerr.KindTimeout || err.Kind == gatewayerr.KindClientCancelled) {
		b.notifyStop()
	}
	b.runCleanup()
}

func (b *Broker) runCleanup() {
	if b.deadline != nil {
		b.deadline.Stop()
	}
	if b.cleanup != nil {
		b.cleanup()
	}
}

// armDeadline starts the broker's wall-clock timeout, firing Fail with
// KindTimeout on expiry. Arming twice is not supported — Dispatch calls
// this at most once.
func (b *Broker) armDeadline(d time.Duration) {
	if d <= 0 {
		return
	}
	b.deadline = time.AfterFunc(d, func() {
		b.Fail(gatewayerr.New(gatewayerr.KindTimeout, "request exceeded its deadline"))
	})
}

// Cancel fails the broker with KindClientCancelled — used when the HTTP
// client disconnects mid-stream (spec §4.6 "Timeout and cancellation").
func (b *Broker) Cancel() {
	b.Fail(gatewayerr.New(gatewayerr.KindClientCancelled, "client disconnected"))
}
