package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/gatewayerr"
)

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func TestWriteOpenAIError_RendersEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOpenAIError(rec, gatewayerr.New(gatewayerr.KindMissingRequiredParameter, "model is required").WithParam("model"))

	assert.Equal(t, 400, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "model is required", errBody["message"])
	assert.Equal(t, "invalid_request_error", errBody["type"])
	assert.Equal(t, "missing_required_parameter", errBody["code"])
	assert.Equal(t, "model", errBody["param"])
}

func TestMgmtOK_WrapsInDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	mgmtOK(rec, map[string]string{"id": "agent-1"})

	assert.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "agent-1", data["id"])
}

func TestMgmtNotFound_SetsStatusAndCode(t *testing.T) {
	rec := httptest.NewRecorder()
	mgmtNotFound(rec, "agent not found")

	assert.Equal(t, 404, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errBody["code"])
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/management/mappings", jsonBody(`{"public_name":"gpt-4","internal_name":"llama3","extra":"nope"}`))

	var dst struct {
		PublicName   string `json:"public_name"`
		InternalName string `json:"internal_name"`
	}
	ok := decodeJSON(rec, req, &dst)
	assert.False(t, ok)
	assert.Equal(t, 400, rec.Code)
}

func TestDecodeJSON_AcceptsValidBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/management/mappings", jsonBody(`{"public_name":"gpt-4","internal_name":"llama3"}`))

	var dst struct {
		PublicName   string `json:"public_name"`
		InternalName string `json:"internal_name"`
	}
	ok := decodeJSON(rec, req, &dst)
	require.True(t, ok)
	assert.Equal(t, "gpt-4", dst.PublicName)
	assert.Equal(t, "llama3", dst.InternalName)
}
