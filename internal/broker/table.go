package broker

import (
	"sync"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
)

// Table is the process-wide map of live brokers keyed by call_id — the
// "activeStreams"/"completionBuffers" table spec §5 describes. A broker
// is registered once, on entering LOADING, and removed exactly once, in its
// cleanup step, satisfying spec P7 (no leaks after termination).
type Table struct {
	mu      sync.Mutex
	brokers map[string]*Broker
}

// NewTable constructs an empty Table.
func NewTable() *Table {
	return &Table{brokers: make(map[string]*Broker)}
}

// Register adds b to the table, keyed by b.CallID.
func (t *Table) Register(b *Broker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.brokers[b.CallID] = b
}

// Lookup returns the broker for callID, if still live.
func (t *Table) Lookup(callID string) (*Broker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.brokers[callID]
	return b, ok
}

// Unregister removes callID from the table. Idempotent.
func (t *Table) Unregister(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.brokers, callID)
}

// Len reports the number of live brokers, mainly for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.brokers)
}

// FailAll fails every currently-registered broker with err, outside the
// table's lock — used during graceful shutdown (spec §4.9) so in-flight
// requests are terminated with KindServerShutdown rather than left to
// fail later as agent_disconnected once connections are torn down.
func (t *Table) FailAll(err *gatewayerr.Error) {
	t.mu.Lock()
	brokers := make([]*Broker, 0, len(t.brokers))
	for _, b := range t.brokers {
		brokers = append(brokers, b)
	}
	t.mu.Unlock()

	for _, b := range brokers {
		b.Fail(err)
	}
}
