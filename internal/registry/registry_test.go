package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/registry"
)

type fakeConn struct{ id string }

func (f fakeConn) AgentIdentity() string { return f.id }

func newTestRegistry() *registry.Registry {
	return registry.New(zap.NewNop())
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	require.NoError(t, r.Register("a1", "agent-one", nil, fakeConn{"a1"}, now))

	err := r.Register("a1", "agent-one-again", nil, fakeConn{"a1"}, now)
	var dup *registry.ErrAlreadyConnected
	assert.ErrorAs(t, err, &dup)
}

func TestRemove_ReturnsBoundRequestsAndFiresListener(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	require.NoError(t, r.Register("a1", "agent-one", nil, fakeConn{"a1"}, now))

	r.BindRequest("call-1", "a1")
	r.BindRequest("call-2", "a1")

	var heard []string
	var heardBound []string
	r.SetRemovalListener(func(agentID string, boundCallIDs []string) {
		heard = append(heard, agentID)
		heardBound = boundCallIDs
	})

	bound := r.Remove("a1")
	assert.ElementsMatch(t, []string{"call-1", "call-2"}, bound)
	assert.Equal(t, []string{"a1"}, heard)
	assert.ElementsMatch(t, []string{"call-1", "call-2"}, heardBound)

	_, ok := r.Get("a1")
	assert.False(t, ok)
}

func TestSetInstalled_AutoCorrectsLoadedNotInInstalled(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	require.NoError(t, r.Register("a1", "agent-one", []string{"llama3"}, fakeConn{"a1"}, now))
	require.NoError(t, r.AddLoaded("a1", "llama3"))

	// Dropping llama3 from the installed set while it is still loaded is an
	// anomaly the registry must silently correct rather than reject.
	require.NoError(t, r.SetInstalled("a1", []string{"mistral"}))

	agent, ok := r.Get("a1")
	require.True(t, ok)
	assert.Contains(t, agent.InstalledModels, "llama3")
	assert.Contains(t, agent.InstalledModels, "mistral")
	assert.Contains(t, agent.LoadedModels, "llama3")
}

func TestPendingRequests_SaturatesAtZero(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	require.NoError(t, r.Register("a1", "agent-one", nil, fakeConn{"a1"}, now))

	require.NoError(t, r.DecrementPending("a1"))
	agent, _ := r.Get("a1")
	assert.Equal(t, 0, agent.PendingRequests)

	require.NoError(t, r.IncrementPending("a1"))
	require.NoError(t, r.IncrementPending("a1"))
	require.NoError(t, r.DecrementPending("a1"))
	agent, _ = r.Get("a1")
	assert.Equal(t, 1, agent.PendingRequests)
}

func TestBindRequest_UnknownLookupFails(t *testing.T) {
	r := newTestRegistry()
	_, err := r.AgentForRequest("missing")
	var unknown *registry.ErrUnknownRequest
	assert.ErrorAs(t, err, &unknown)
}

func TestList_SortedByID(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	require.NoError(t, r.Register("zeta", "z", nil, fakeConn{"zeta"}, now))
	require.NoError(t, r.Register("alpha", "a", nil, fakeConn{"alpha"}, now))

	agents := r.List()
	require.Len(t, agents, 2)
	assert.Equal(t, "alpha", agents[0].ID)
	assert.Equal(t, "zeta", agents[1].ID)
}
