// ABOUTME: HTTP JSON API handlers over the coordination hub
// ABOUTME: Maps request bodies to hub operations and error kinds to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/coven-hub/internal/agent"
	"github.com/2389/coven-hub/internal/auth"
	"github.com/2389/coven-hub/internal/conflict"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/hub"
	"github.com/2389/coven-hub/internal/messaging"
	"github.com/2389/coven-hub/internal/scheduler"
	"github.com/2389/coven-hub/internal/store"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	AgentID string `json:"agentId"`
	Secret  string `json:"secret"`
}

// StatusRequest is the JSON request body for PUT /api/agents/{id}/status.
type StatusRequest struct {
	Status   agent.Status `json:"status"`
	Progress *int         `json:"progress,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
// The sender is the authenticated agent.
type SendMessageRequest struct {
	To       string            `json:"to"`
	Content  string            `json:"content"`
	Priority store.Priority    `json:"priority,omitempty"`
	Type     store.MessageType `json:"type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TaskStatusRequest is the JSON request body for PUT /api/tasks/{id}/status.
type TaskStatusRequest struct {
	Status store.TaskStatus `json:"status"`
}

// ResolveRequest is the JSON request body for POST /api/conflicts/{id}/resolve.
// An empty resolution lets the conflict type's strategy write one.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

// EscalateRequest is the JSON request body for POST /api/conflicts/{id}/escalate.
type EscalateRequest struct {
	EscalatedTo string `json:"escalatedTo"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, hub.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrInvalidCredentials), errors.Is(err, fault.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, fault.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, fault.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, fault.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// sendResult writes the outcome of a command. A persistence failure after
// the change was applied still returns the applied result next to the error.
func (g *Gateway) sendResult(w http.ResponseWriter, status int, v any, err error) {
	switch {
	case err == nil:
		g.sendJSON(w, status, v)
	case errors.Is(err, fault.ErrPersistence) && v != nil:
		g.logger.Error("change applied but not persisted", "error", err)
		g.sendJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "applied but not persisted",
			"result": v,
		})
	default:
		g.sendError(w, err)
	}
}

func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

// decodeBody reads a JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fault.Validation("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

// handleLogin handles POST /api/auth/login. Unknown agents and wrong
// secrets get the same answer.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}
	if req.AgentID == "" || req.Secret == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agentId and secret are required")
		return
	}

	res, err := g.hub.Authenticate(r.Context(), req.AgentID, req.Secret)
	switch {
	case err == nil:
		g.sendJSON(w, http.StatusOK, res)
	case errors.Is(err, fault.ErrNotFound), errors.Is(err, fault.ErrInvalidCredentials):
		g.logger.Warn("login rejected", "agent_id", req.AgentID)
		g.sendJSONError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		g.sendError(w, err)
	}
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.hub.GetAllAgents())
}

// handleGetAgent handles GET /api/agents/{id}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := g.hub.GetAgent(r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, a)
}

// handleUpdateProgress handles POST /api/agents/{id}/progress. The body is
// the raw progress report.
func (g *Gateway) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	a, err := g.hub.UpdateProgress(r.Context(), r.PathValue("id"), payload)
	g.sendResult(w, http.StatusOK, a, err)
}

// handleProgressLog handles GET /api/agents/{id}/progress?limit=N.
func (g *Gateway) handleProgressLog(w http.ResponseWriter, r *http.Request) {
	entries, err := g.hub.ProgressLog(r.Context(), r.PathValue("id"), queryInt(r, "limit", 50))
	if err != nil {
		g.sendError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.ProgressEntry{}
	}
	g.sendJSON(w, http.StatusOK, entries)
}

// handleUpdateStatus handles PUT /api/agents/{id}/status.
func (g *Gateway) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}
	a, err := g.hub.UpdateAgentStatus(r.PathValue("id"), req.Status, req.Progress)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, a)
}

// handleAgentMessages handles GET /api/agents/{id}/messages.
func (g *Gateway) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.hub.GetMessagesForAgent(r.Context(), r.PathValue("id")))
}

// handleSendMessage handles POST /api/messages. An Idempotency-Key header
// makes retries return the original message id.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}

	sender := auth.FromContext(r.Context())
	res, err := g.hub.SendMessage(r.Context(), messaging.SendRequest{
		From:           sender.AgentID,
		To:             req.To,
		Content:        req.Content,
		Priority:       req.Priority,
		Type:           req.Type,
		Metadata:       req.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	var v any
	if res.MessageID != "" {
		v = res
	}
	g.sendResult(w, status, v, err)
}

// handleRecentMessages handles GET /api/messages/recent?limit=N.
func (g *Gateway) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.hub.GetRecentMessages(r.Context(), queryInt(r, "limit", 50)))
}

// handleMarkRead handles POST /api/messages/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := g.hub.MarkMessageAsRead(r.Context(), r.PathValue("id")); err != nil {
		g.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTasks handles GET /api/tasks with optional agent_id or status filters.
func (g *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var tasks []*store.Task
	switch {
	case q.Get("agent_id") != "":
		tasks = g.hub.GetTasksByAgent(q.Get("agent_id"))
	case q.Get("status") != "":
		tasks = g.hub.GetTasksByStatus(store.TaskStatus(q.Get("status")))
	default:
		tasks = g.hub.GetAllTasks()
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	g.sendJSON(w, http.StatusOK, tasks)
}

// handleScheduleTask handles POST /api/tasks.
func (g *Gateway) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	var spec scheduler.TaskSpec
	if err := decodeBody(w, r, &spec); err != nil {
		g.sendError(w, err)
		return
	}
	task, err := g.hub.ScheduleTask(r.Context(), spec)
	g.sendResult(w, http.StatusCreated, task, err)
}

// handleUpdateTaskStatus handles PUT /api/tasks/{id}/status.
func (g *Gateway) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req TaskStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}
	task, err := g.hub.UpdateTaskStatus(r.Context(), r.PathValue("id"), req.Status)
	g.sendResult(w, http.StatusOK, task, err)
}

// handleListConflicts handles GET /api/conflicts with optional agent_id or status filters.
func (g *Gateway) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var list []*store.Conflict
	switch {
	case q.Get("agent_id") != "":
		list = g.hub.GetConflictsByAgent(q.Get("agent_id"))
	case q.Get("status") != "":
		list = g.hub.GetConflictsByStatus(store.ConflictStatus(q.Get("status")))
	default:
		list = g.hub.GetAllConflicts()
	}
	if list == nil {
		list = []*store.Conflict{}
	}
	g.sendJSON(w, http.StatusOK, list)
}

// handleCreateConflict handles POST /api/conflicts.
func (g *Gateway) handleCreateConflict(w http.ResponseWriter, r *http.Request) {
	var report conflict.Report
	if err := decodeBody(w, r, &report); err != nil {
		g.sendError(w, err)
		return
	}
	c, err := g.hub.CreateConflict(r.Context(), report)
	g.sendResult(w, http.StatusCreated, c, err)
}

// handleGetConflict handles GET /api/conflicts/{id}.
func (g *Gateway) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := g.hub.GetConflict(r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, c)
}

// handleAcknowledgeConflict handles POST /api/conflicts/{id}/acknowledge.
func (g *Gateway) handleAcknowledgeConflict(w http.ResponseWriter, r *http.Request) {
	c, err := g.hub.AcknowledgeConflict(r.Context(), r.PathValue("id"))
	g.sendResult(w, http.StatusOK, c, err)
}

// handleResolveConflict handles POST /api/conflicts/{id}/resolve.
func (g *Gateway) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			g.sendError(w, err)
			return
		}
	}
	c, err := g.hub.ResolveConflict(r.Context(), r.PathValue("id"), req.Resolution)
	g.sendResult(w, http.StatusOK, c, err)
}

// handleEscalateConflict handles POST /api/conflicts/{id}/escalate.
func (g *Gateway) handleEscalateConflict(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}
	c, err := g.hub.EscalateConflict(r.Context(), r.PathValue("id"), req.EscalatedTo)
	g.sendResult(w, http.StatusOK, c, err)
}

// handleListGates handles GET /api/quality-gates with an optional agent_id filter.
func (g *Gateway) handleListGates(w http.ResponseWriter, r *http.Request) {
	var gates []*store.QualityGate
	if id := r.URL.Query().Get("agent_id"); id != "" {
		gates = g.hub.GetQualityGatesByAgent(id)
	} else {
		gates = g.hub.GetAllQualityGates()
	}
	if gates == nil {
		gates = []*store.QualityGate{}
	}
	g.sendJSON(w, http.StatusOK, gates)
}

// handleGetGate handles GET /api/quality-gates/{id}.
func (g *Gateway) handleGetGate(w http.ResponseWriter, r *http.Request) {
	gate, err := g.hub.GetQualityGate(r.PathValue("id"))
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, gate)
}

// handleRunGate handles POST /api/quality-gates/{id}/run.
func (g *Gateway) handleRunGate(w http.ResponseWriter, r *http.Request) {
	gate, err := g.hub.RunQualityGate(r.Context(), r.PathValue("id"))
	g.sendResult(w, http.StatusOK, gate, err)
}
