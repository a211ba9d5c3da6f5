// ABOUTME: Tests for the gateway HTTP API handlers
// ABOUTME: Exercises entity, response, and conversation endpoints against a real engine and store

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/devgate/internal/config"
	"github.com/2389/devgate/internal/conversation"
	"github.com/2389/devgate/internal/entity"
	"github.com/2389/devgate/internal/executor"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	registry := entity.NewRegistry()
	echo := executor.RunnerFunc(func(ctx context.Context, in executor.RunInput, emit executor.EmitFunc) error {
		for _, word := range strings.Fields(in.Input) {
			if !emit(executor.TextDelta(word + " ")) {
				return nil
			}
		}
		return nil
	})
	require.NoError(t, registry.Register(&entity.Info{
		ID:     "agent_echo",
		Type:   "agent",
		Name:   "Echo",
		Source: entity.SourceInMemory,
	}, echo))

	store, err := conversation.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &Gateway{
		config:        config.Default(),
		registry:      registry,
		engine:        executor.NewLocalEngine(registry, logger),
		conversations: store,
		logger:        logger,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(t)
	rec := httptest.NewRecorder()
	g.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["entities_count"])
	assert.Equal(t, "devgate", body["framework"])
}

func TestHandleListEntities(t *testing.T) {
	g := newTestGateway(t)
	rec := httptest.NewRecorder()
	g.handleListEntities(rec, httptest.NewRequest("GET", "/v1/entities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	entities := body["entities"].([]any)
	require.Len(t, entities, 1)
}

func TestHandleEntityInfo(t *testing.T) {
	g := newTestGateway(t)

	req := httptest.NewRequest("GET", "/v1/entities/agent_echo/info", nil)
	req.SetPathValue("id", "agent_echo")
	rec := httptest.NewRecorder()
	g.handleEntityInfo(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent_echo", decodeBody(t, rec)["id"])

	req = httptest.NewRequest("GET", "/v1/entities/nope/info", nil)
	req.SetPathValue("id", "nope")
	rec = httptest.NewRecorder()
	g.handleEntityInfo(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "not found")
}

func TestHandleAddEntity(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleAddEntity(rec, httptest.NewRequest("POST", "/v1/entities/add", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	g.handleAddEntity(rec, httptest.NewRequest("POST", "/v1/entities/add",
		strings.NewReader(`{"url": "https://agents.example.com/a2a"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	info := body["entity"].(map[string]any)
	assert.True(t, strings.HasPrefix(info["id"].(string), "remote_"))
	assert.Equal(t, "remote", info["source"])
	assert.Equal(t, 2, g.registry.Count())
}

func TestHandleRemoveEntity(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleAddEntity(rec, httptest.NewRequest("POST", "/v1/entities/add",
		strings.NewReader(`{"url": "https://agents.example.com/a2a"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["entity"].(map[string]any)["id"].(string)

	req := httptest.NewRequest("DELETE", "/v1/entities/"+id, nil)
	req.SetPathValue("id", id)
	rec = httptest.NewRecorder()
	g.handleRemoveEntity(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Built-in entities are not removable.
	req = httptest.NewRequest("DELETE", "/v1/entities/agent_echo", nil)
	req.SetPathValue("id", "agent_echo")
	rec = httptest.NewRecorder()
	g.handleRemoveEntity(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResponsesSync(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleResponses(rec, httptest.NewRequest("POST", "/v1/responses",
		strings.NewReader(`{"entity_id": "agent_echo", "input": "hello world"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "response", body["object"])
	output := body["output"].([]any)
	require.Len(t, output, 1)
	msg := output[0].(map[string]any)
	content := msg["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "hello world ", content["text"])
}

func TestHandleResponsesModelAlias(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleResponses(rec, httptest.NewRequest("POST", "/v1/responses",
		strings.NewReader(`{"model": "agent_echo", "input": "hi"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleResponsesValidation(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleResponses(rec, httptest.NewRequest("POST", "/v1/responses", strings.NewReader(`{"input": "hi"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	g.handleResponses(rec, httptest.NewRequest("POST", "/v1/responses",
		strings.NewReader(`{"entity_id": "nope", "input": "hi"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	g.handleResponses(rec, httptest.NewRequest("POST", "/v1/responses", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResponsesStreaming(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleResponses(rec, httptest.NewRequest("POST", "/v1/responses",
		strings.NewReader(`{"entity_id": "agent_echo", "input": "a b", "stream": true}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"delta":"a "`)
	assert.Contains(t, body, `"delta":"b "`)
	assert.Contains(t, body, executor.TypeResponseDone)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestConversationLifecycle(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleCreateConversation(rec, httptest.NewRequest("POST", "/v1/conversations",
		strings.NewReader(`{"metadata": {"agent_id": "agent_echo"}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	convID := decodeBody(t, rec)["id"].(string)
	assert.True(t, strings.HasPrefix(convID, "conv_"))

	req := httptest.NewRequest("GET", "/v1/conversations/"+convID, nil)
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleGetConversation(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	g.handleListConversations(rec, httptest.NewRequest("GET", "/v1/conversations?agent_id=agent_echo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"].([]any), 1)

	rec = httptest.NewRecorder()
	g.handleListConversations(rec, httptest.NewRequest("GET", "/v1/conversations?agent_id=other", nil))
	assert.Empty(t, decodeBody(t, rec)["data"].([]any))

	req = httptest.NewRequest("POST", "/v1/conversations/"+convID, strings.NewReader(`{"metadata": {"k": "v"}}`))
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleUpdateConversation(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decodeBody(t, rec)["metadata"].(map[string]any)
	assert.Equal(t, "v", meta["k"])

	req = httptest.NewRequest("DELETE", "/v1/conversations/"+convID, nil)
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleDeleteConversation(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "conversation.deleted", body["object"])
	assert.Equal(t, true, body["deleted"])

	req = httptest.NewRequest("GET", "/v1/conversations/"+convID, nil)
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleGetConversation(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeBody(t, rec)["detail"])
}

func TestConversationItems(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleCreateConversation(rec, httptest.NewRequest("POST", "/v1/conversations", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	convID := decodeBody(t, rec)["id"].(string)

	req := httptest.NewRequest("POST", "/v1/conversations/"+convID+"/items",
		strings.NewReader(`{"items": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}]}`))
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleAddItems(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	added := decodeBody(t, rec)["data"].([]any)
	require.Len(t, added, 2)
	itemID := added[0].(map[string]any)["id"].(string)

	req = httptest.NewRequest("GET", "/v1/conversations/"+convID+"/items", nil)
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleListItems(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody(t, rec)
	assert.Len(t, listed["data"].([]any), 2)
	assert.Equal(t, false, listed["has_more"])

	req = httptest.NewRequest("GET", "/v1/conversations/"+convID+"/items?limit=abc", nil)
	req.SetPathValue("id", convID)
	rec = httptest.NewRecorder()
	g.handleListItems(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest("GET", "/v1/conversations/"+convID+"/items/"+itemID, nil)
	req.SetPathValue("id", convID)
	req.SetPathValue("item_id", itemID)
	rec = httptest.NewRecorder()
	g.handleGetItem(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", decodeBody(t, rec)["content"])
}

func TestCORSMiddleware(t *testing.T) {
	g := newTestGateway(t)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := g.corsMiddleware(inner)

	req := httptest.NewRequest("OPTIONS", "/v1/responses", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	g := newTestGateway(t)
	g.config.CORS.Origins = []string{"http://localhost:3000"}

	assert.Equal(t, "http://localhost:3000", g.allowedOrigin("http://localhost:3000"))
	assert.Equal(t, "", g.allowedOrigin("http://evil.example.com"))
}
