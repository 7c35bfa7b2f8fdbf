// ABOUTME: Request-handler operations the hub exposes to transports
// ABOUTME: Each validates cross-component references, then delegates to one component

package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/coven-hub/internal/agent"
	"github.com/2389/coven-hub/internal/conflict"
	"github.com/2389/coven-hub/internal/messaging"
	"github.com/2389/coven-hub/internal/scheduler"
	"github.com/2389/coven-hub/internal/store"
)

func (h *Hub) requireAgent(agentID string) error {
	if !h.agents.Exists(agentID) {
		return fmt.Errorf("%w: %s", agent.ErrAgentNotFound, agentID)
	}
	return nil
}

// Agents

func (h *Hub) Authenticate(ctx context.Context, agentID, secret string) (*agent.AuthResult, error) {
	if err := h.requireStarted(); err != nil {
		return nil, err
	}
	return h.agents.Authenticate(ctx, agentID, secret)
}

func (h *Hub) VerifyToken(agentID, token string) error {
	return h.agents.VerifyToken(agentID, token)
}

func (h *Hub) UpdateProgress(ctx context.Context, agentID string, payload json.RawMessage) (agent.Agent, error) {
	return h.agents.UpdateProgress(ctx, agentID, payload)
}

func (h *Hub) UpdateAgentStatus(agentID string, status agent.Status, progress *int) (agent.Agent, error) {
	return h.agents.UpdateStatus(agentID, status, progress)
}

func (h *Hub) GetAgent(agentID string) (agent.Agent, error) {
	return h.agents.GetAgent(agentID)
}

func (h *Hub) GetAllAgents() []agent.Agent {
	return h.agents.ListAgents()
}

func (h *Hub) ProgressLog(ctx context.Context, agentID string, limit int) ([]*store.ProgressEntry, error) {
	return h.agents.ProgressLog(ctx, agentID, limit)
}

// Messages

// SendMessage routes a message to a rostered agent. The sender may be an
// agent or the coordinator.
func (h *Hub) SendMessage(ctx context.Context, req messaging.SendRequest) (messaging.SendResult, error) {
	if err := h.requireStarted(); err != nil {
		return messaging.SendResult{}, err
	}
	if err := h.requireAgent(req.To); err != nil {
		return messaging.SendResult{}, err
	}
	if req.From != CoordinatorID {
		if err := h.requireAgent(req.From); err != nil {
			return messaging.SendResult{}, err
		}
	}
	return h.router.SendMessage(ctx, req)
}

func (h *Hub) GetMessagesForAgent(ctx context.Context, agentID string) []*store.Message {
	return h.router.GetMessagesForAgent(ctx, agentID)
}

func (h *Hub) GetRecentMessages(ctx context.Context, limit int) []*store.Message {
	return h.router.GetRecentMessages(ctx, limit)
}

func (h *Hub) MarkMessageAsRead(ctx context.Context, messageID string) error {
	return h.router.MarkMessageAsRead(ctx, messageID)
}

// DeliverPending runs one delivery sweep immediately.
func (h *Hub) DeliverPending(ctx context.Context) int {
	return h.router.Sweep(ctx)
}

func (h *Hub) QueueDepth(agentID string) int {
	return h.router.QueueDepth(agentID)
}

func (h *Hub) PendingMessages() map[string]int {
	return h.router.Pending()
}

// Tasks

func (h *Hub) ScheduleTask(ctx context.Context, spec scheduler.TaskSpec) (*store.Task, error) {
	if err := h.requireAgent(spec.AgentID); err != nil {
		return nil, err
	}
	return h.scheduler.ScheduleTask(ctx, spec)
}

func (h *Hub) UpdateTaskStatus(ctx context.Context, taskID string, status store.TaskStatus) (*store.Task, error) {
	return h.scheduler.UpdateTaskStatus(ctx, taskID, status)
}

func (h *Hub) GetAllTasks() []*store.Task {
	return h.scheduler.GetAllTasks()
}

func (h *Hub) GetTasksByAgent(agentID string) []*store.Task {
	return h.scheduler.GetTasksByAgent(agentID)
}

func (h *Hub) GetTasksByStatus(status store.TaskStatus) []*store.Task {
	return h.scheduler.GetTasksByStatus(status)
}

// TriggerCadence fires a scheduler cadence now.
func (h *Hub) TriggerCadence(name string) error {
	return h.scheduler.Trigger(name)
}

// Conflicts

func (h *Hub) CreateConflict(ctx context.Context, r conflict.Report) (*store.Conflict, error) {
	for _, id := range r.Agents {
		if err := h.requireAgent(id); err != nil {
			return nil, err
		}
	}
	return h.conflicts.CreateConflict(ctx, r)
}

func (h *Hub) AcknowledgeConflict(ctx context.Context, id string) (*store.Conflict, error) {
	return h.conflicts.AcknowledgeConflict(ctx, id)
}

func (h *Hub) ResolveConflict(ctx context.Context, id, resolution string) (*store.Conflict, error) {
	return h.conflicts.ResolveConflict(ctx, id, resolution)
}

func (h *Hub) EscalateConflict(ctx context.Context, id, escalatedTo string) (*store.Conflict, error) {
	return h.conflicts.EscalateConflict(ctx, id, escalatedTo)
}

func (h *Hub) GetConflict(id string) (*store.Conflict, error) {
	return h.conflicts.GetConflict(id)
}

func (h *Hub) GetAllConflicts() []*store.Conflict {
	return h.conflicts.GetAllConflicts()
}

func (h *Hub) GetConflictsByStatus(status store.ConflictStatus) []*store.Conflict {
	return h.conflicts.GetConflictsByStatus(status)
}

func (h *Hub) GetConflictsByAgent(agentID string) []*store.Conflict {
	return h.conflicts.GetConflictsByAgent(agentID)
}

// Quality gates

func (h *Hub) RunQualityGate(ctx context.Context, id string) (*store.QualityGate, error) {
	return h.quality.RunQualityGate(ctx, id)
}

func (h *Hub) RunAllQualityGates(ctx context.Context) ([]*store.QualityGate, error) {
	return h.quality.RunAll(ctx)
}

func (h *Hub) GetAllQualityGates() []*store.QualityGate {
	return h.quality.GetAllQualityGates()
}

func (h *Hub) GetQualityGate(id string) (*store.QualityGate, error) {
	return h.quality.GetQualityGate(id)
}

func (h *Hub) GetQualityGatesByAgent(agentID string) []*store.QualityGate {
	return h.quality.GetQualityGatesByAgent(agentID)
}
