// ABOUTME: Domain event types emitted by the coordination components
// ABOUTME: Events carry a dotted type name, timestamp, primary agent and payload

package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a domain event. Convention: "category.action".
type Type string

// Agent registry events
const (
	AgentStatusChanged   Type = "agent.status_changed"
	AgentProgressUpdated Type = "agent.progress_updated"
)

// Message router events
const (
	MessageSent      Type = "message.sent"
	MessageDelivered Type = "message.delivered"
	MessageRead      Type = "message.read"
)

// Task scheduler events
const (
	TaskScheduled     Type = "task.scheduled"
	TaskStatusChanged Type = "task.status_changed"

	DailyStandupTriggered  Type = "schedule.daily_standup"
	WeeklyReviewTriggered  Type = "schedule.weekly_review"
	QualityCheckTriggered  Type = "schedule.quality_check"
	ConflictSweepTriggered Type = "schedule.conflict_sweep"
	ProgressCheckTriggered Type = "schedule.progress_check"
)

// Conflict manager events
const (
	ConflictCreated      Type = "conflict.created"
	ConflictAcknowledged Type = "conflict.acknowledged"
	ConflictResolved     Type = "conflict.resolved"
	ConflictEscalated    Type = "conflict.escalated"
)

// Quality gate events
const (
	QualityGateCompleted Type = "quality_gate.completed"
)

// Event is a single occurrence published on the Bus.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"` // agent the event concerns, if any
	Data      any       `json:"data,omitempty"`
}

// New builds an Event stamped with the current time.
func New(t Type, agentID string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		AgentID:   agentID,
		Data:      data,
	}
}

// Publisher is the narrow interface components depend on.
type Publisher interface {
	Publish(Event)
}
