package wsproto_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkeep-io/llmgateway/internal/wsproto"
)

func newTestServer(t *testing.T, transport *wsproto.Transport) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = transport.Accept(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestAccept_MissingIdentityRejected(t *testing.T) {
	transport := wsproto.NewTransport("", zap.NewNop())
	srv := newTestServer(t, transport)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, 0, transport.Count())
}

func TestAccept_UnauthorizedRejected(t *testing.T) {
	transport := wsproto.NewTransport("s3cr3t", zap.NewNop())
	srv := newTestServer(t, transport)

	dialer := websocket.Dialer{}
	header := http.Header{}
	header.Set("agent-id", "agent-1")
	header.Set("agent-name", "agent-one")
	header.Set("Authorization", "Bearer wrong-token")

	// The handshake itself completes (spec §4.1/scenario 6 require a
	// WebSocket-level close, not an HTTP-level refusal); rejection arrives
	// as a close frame with code 1008 (policy_violation).
	conn, resp, err := dialer.Dial(wsURL(srv.URL), header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a websocket close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	assert.Equal(t, 0, transport.Count())
}

func TestAccept_EstablishesConnectionAndFiresOnOpen(t *testing.T) {
	transport := wsproto.NewTransport("", zap.NewNop())

	opened := make(chan []string, 1)
	transport.SetHandlers(wsproto.Handlers{
		OnOpen: func(agentID, name string, installedModels []string) {
			opened <- installedModels
		},
	})

	srv := newTestServer(t, transport)

	dialer := websocket.Dialer{}
	header := http.Header{}
	header.Set("agent-id", "agent-1")
	header.Set("agent-name", "agent-one")
	header.Set("agent-installed-models", "llama3, mistral")

	conn, resp, err := dialer.Dial(wsURL(srv.URL), header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	select {
	case models := <-opened:
		assert.ElementsMatch(t, []string{"llama3", "mistral"}, models)
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen was not called")
	}

	_, ok := transport.Get("agent-1")
	assert.True(t, ok)
}

func TestAccept_DuplicateAgentRejected(t *testing.T) {
	transport := wsproto.NewTransport("", zap.NewNop())
	srv := newTestServer(t, transport)

	dialer := websocket.Dialer{}
	header := http.Header{}
	header.Set("agent-id", "agent-1")
	header.Set("agent-name", "agent-one")

	conn, resp, err := dialer.Dial(wsURL(srv.URL), header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// The second handshake also completes; rejection arrives as a close
	// frame with code 1008 (policy_violation), per spec §4.1/scenario 6.
	conn2, resp2, err := dialer.Dial(wsURL(srv.URL), header)
	require.NoError(t, err)
	defer conn2.Close()
	defer resp2.Body.Close()

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn2.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a websocket close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	assert.Equal(t, 1, transport.Count())
}

func TestCloseAll_TearsDownConnections(t *testing.T) {
	transport := wsproto.NewTransport("", zap.NewNop())
	srv := newTestServer(t, transport)

	dialer := websocket.Dialer{}
	header := http.Header{}
	header.Set("agent-id", "agent-1")
	header.Set("agent-name", "agent-one")

	conn, resp, err := dialer.Dial(wsURL(srv.URL), header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	transport.CloseAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the client should observe the server-initiated close")
}
