// ABOUTME: HTTP API handlers for entities, responses, and conversations
// ABOUTME: Error bodies are short machine-readable JSON; no internal detail leaks

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/2389/devgate/internal/conversation"
	"github.com/2389/devgate/internal/entity"
	"github.com/2389/devgate/internal/executor"
)

// ResponsesRequest is the JSON request body for POST /v1/responses. The
// entity may be named either directly or through the OpenAI-style model
// field.
type ResponsesRequest struct {
	EntityID       string `json:"entity_id,omitempty"`
	Model          string `json:"model,omitempty"`
	Input          string `json:"input"`
	Stream         bool   `json:"stream,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (r *ResponsesRequest) entityID() string {
	if r.EntityID != "" {
		return r.EntityID
	}
	return r.Model
}

// AddEntityRequest is the JSON request body for POST /v1/entities/add.
type AddEntityRequest struct {
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"entities_count": g.registry.Count(),
		"framework":      "devgate",
	})
}

func (g *Gateway) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entities": g.registry.List()})
}

func (g *Gateway) handleEntityInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := g.registry.Get(id)
	if !ok {
		g.sendError(w, http.StatusNotFound, "Entity "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (g *Gateway) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	var req AddEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.URL == "" {
		g.sendError(w, http.StatusBadRequest, "URL is required")
		return
	}

	info := &entity.Info{
		ID:       "remote_" + uuid.NewString(),
		Type:     "agent",
		Name:     req.URL,
		Source:   entity.SourceRemote,
		URL:      req.URL,
		Metadata: req.Metadata,
	}
	if err := g.registry.Register(info, nil); err != nil {
		g.logger.Error("failed to register remote entity", "url", req.URL, "error", err)
		g.sendError(w, http.StatusInternalServerError, "Failed to register entity")
		return
	}

	g.logger.Info("registered remote entity", "entity_id", info.ID, "url", req.URL)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entity": info})
}

func (g *Gateway) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.registry.Remove(id); err != nil {
		g.sendError(w, http.StatusNotFound, "Entity not found or cannot be removed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleResponses executes an entity, either synchronously or as an SSE
// stream.
func (g *Gateway) handleResponses(w http.ResponseWriter, r *http.Request) {
	var req ResponsesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendExecutionError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	entityID := req.entityID()
	if entityID == "" {
		g.sendExecutionError(w, http.StatusBadRequest, "Missing entity_id")
		return
	}
	if _, ok := g.registry.Get(entityID); !ok {
		g.sendExecutionError(w, http.StatusNotFound, "Entity not found: "+entityID)
		return
	}

	execReq := &executor.Request{
		EntityID:       entityID,
		Input:          req.Input,
		Stream:         req.Stream,
		ConversationID: req.ConversationID,
	}

	if req.Stream {
		items, err := g.engine.ExecuteStreaming(r.Context(), execReq)
		if err != nil {
			g.sendExecutionError(w, executionErrorStatus(err), "Execution failed")
			return
		}
		g.streamExecution(w, r, items, execReq)
		return
	}

	resp, err := g.engine.ExecuteSync(r.Context(), execReq)
	if err != nil {
		g.logger.Error("execution failed", "entity_id", entityID, "error", err)
		g.sendExecutionError(w, executionErrorStatus(err), "Execution failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func executionErrorStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrEntityNotRunnable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	conv, err := g.conversations.CreateConversation(r.Context(), req.Metadata)
	if err != nil {
		g.logger.Error("failed to create conversation", "error", err)
		g.sendError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	filter := map[string]string{}
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		filter["agent_id"] = agentID
	}

	convs, err := g.conversations.ListConversations(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}

	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object":   "list",
		"data":     convs,
		"has_more": false,
	})
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversations.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendStoreError(w, err, "Failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	conv, err := g.conversations.UpdateConversation(r.Context(), r.PathValue("id"), req.Metadata)
	if err != nil {
		g.sendStoreError(w, err, "Failed to update conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.conversations.DeleteConversation(r.Context(), id); err != nil {
		g.sendStoreError(w, err, "Failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"object":  "conversation.deleted",
		"deleted": true,
	})
}

func (g *Gateway) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	items, err := g.conversations.AddItems(r.Context(), r.PathValue("id"), req.Items)
	if err != nil {
		g.sendStoreError(w, err, "Failed to add items")
		return
	}

	data := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data = append(data, item.Payload())
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (g *Gateway) handleListItems(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			g.sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	order := r.URL.Query().Get("order")
	if order == "" {
		order = "asc"
	}

	items, hasMore, err := g.conversations.ListItems(r.Context(), r.PathValue("id"), limit, r.URL.Query().Get("after"), order)
	if err != nil {
		g.sendStoreError(w, err, "Failed to list items")
		return
	}

	data := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data = append(data, item.Payload())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object":   "list",
		"data":     data,
		"has_more": hasMore,
	})
}

func (g *Gateway) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := g.conversations.GetItem(r.Context(), r.PathValue("id"), r.PathValue("item_id"))
	if err != nil {
		g.sendStoreError(w, err, "Failed to get item")
		return
	}
	writeJSON(w, http.StatusOK, item.Payload())
}

// sendStoreError maps store failures to 404 for missing records and 500
// otherwise, without leaking internals.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, conversation.ErrNotFound) {
		g.sendError(w, http.StatusNotFound, "Not found")
		return
	}
	g.logger.Error("conversation store error", "error", err)
	g.sendError(w, http.StatusInternalServerError, fallback)
}

// sendError writes a JSON error body in the {"detail": ...} shape.
func (g *Gateway) sendError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// sendExecutionError writes an OpenAI-style error object for the responses
// endpoint.
func (g *Gateway) sendExecutionError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
