package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/metrics"
)

func TestObserveDispatch_ExposedOnHandler(t *testing.T) {
	m := metrics.New()
	m.ObserveDispatch("chat", "dispatched")
	m.ConnectedAgents.Set(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `llmgateway_broker_dispatches_total{kind="chat",outcome="dispatched"} 1`))
	assert.True(t, strings.Contains(body, "llmgateway_registry_connected_agents 3"))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := metrics.New()
	b := metrics.New()

	a.ObserveDispatch("chat", "dispatched")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.False(t, strings.Contains(rec.Body.String(), "dispatches_total"))
}
