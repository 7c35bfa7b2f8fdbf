// ABOUTME: Store interface and entity types for coven-hub persistence
// ABOUTME: Defines Message, Conflict, QualityGate, Task and progress log records

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Priority ranks messages and tasks.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// MessageType classifies a message.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeTask         MessageType = "task"
	MessageTypeAlert        MessageType = "alert"
	MessageTypeNotification MessageType = "notification"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeTask, MessageTypeAlert, MessageTypeNotification:
		return true
	}
	return false
}

// Message is a unit of agent-to-agent communication.
// Read stays false until the delivery sweep hands the message over.
type Message struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Content   string            `json:"content"`
	Priority  Priority          `json:"priority"`
	Type      MessageType       `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Read      bool              `json:"read"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConflictType names the kind of contention a conflict records.
type ConflictType string

const (
	ConflictCode         ConflictType = "code"
	ConflictDependency   ConflictType = "dependency"
	ConflictResource     ConflictType = "resource"
	ConflictPriority     ConflictType = "priority"
	ConflictArchitecture ConflictType = "architecture"
)

// ConflictTypes lists every conflict type in declaration order.
var ConflictTypes = []ConflictType{
	ConflictCode, ConflictDependency, ConflictResource, ConflictPriority, ConflictArchitecture,
}

// Valid reports whether t is a known conflict type.
func (t ConflictType) Valid() bool {
	for _, known := range ConflictTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades a conflict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ConflictStatus is the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictOpen       ConflictStatus = "open"
	ConflictInProgress ConflictStatus = "in-progress"
	ConflictResolved   ConflictStatus = "resolved"
	ConflictEscalated  ConflictStatus = "escalated"
)

// Terminal reports whether no further transition is allowed from s.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictEscalated
}

// Conflict records contention between agents.
type Conflict struct {
	ID          string         `json:"id"`
	Type        ConflictType   `json:"type"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Agents      []string       `json:"agents"`
	Status      ConflictStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
	EscalatedTo string         `json:"escalatedTo,omitempty"`
}

// GateType names the area a quality gate covers.
type GateType string

const (
	GateCode          GateType = "code"
	GateSecurity      GateType = "security"
	GateTesting       GateType = "testing"
	GateDocumentation GateType = "documentation"
)

// Valid reports whether t is a known gate type.
func (t GateType) Valid() bool {
	switch t {
	case GateCode, GateSecurity, GateTesting, GateDocumentation:
		return true
	}
	return false
}

// GateStatus is the overall verdict of a quality gate.
type GateStatus string

const (
	GatePending GateStatus = "pending"
	GatePassing GateStatus = "passing"
	GateFailing GateStatus = "failing"
	GateWarning GateStatus = "warning"
)

// CriterionStatus is the verdict of one criterion.
type CriterionStatus string

const (
	CriterionPass    CriterionStatus = "pass"
	CriterionFail    CriterionStatus = "fail"
	CriterionWarning CriterionStatus = "warning"
)

// QualityCriteria is one measurable condition of a gate.
type QualityCriteria struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Threshold   float64         `json:"threshold"`
	Current     float64         `json:"current"`
	Status      CriterionStatus `json:"status"`
}

// QualityGate bundles criteria evaluated together.
type QualityGate struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        GateType          `json:"type"`
	Status      GateStatus        `json:"status"`
	Criteria    []QualityCriteria `json:"criteria"`
	LastRun     time.Time         `json:"lastRun"`
	NextRun     time.Time         `json:"nextRun"`
	AgentID     string            `json:"agentId"`
}

// Clone returns a deep copy of the gate.
func (g *QualityGate) Clone() *QualityGate {
	c := *g
	c.Criteria = append([]QualityCriteria(nil), g.Criteria...)
	return &c
}

// TaskStatus is the caller-driven state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskBlocked:
		return true
	}
	return false
}

// Task is a unit of scheduled work assigned to an agent.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	AgentID        string     `json:"agentId"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	EstimatedHours float64    `json:"estimatedHours"`
	ActualHours    float64    `json:"actualHours"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	Blockers       []string   `json:"blockers,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
}

// ProgressEntry is one append-only record of a raw progress report.
type ProgressEntry struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store defines the persistence collaborator shared by all components.
// Every method may fail independently; callers decide whether to surface it.
type Store interface {
	// Initialize prepares the backing storage. Failure is fatal to startup.
	Initialize(ctx context.Context) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	UpdateMessage(ctx context.Context, msg *Message) error
	GetMessagesForAgent(ctx context.Context, agentID string) ([]*Message, error)
	GetRecentMessages(ctx context.Context, limit int) ([]*Message, error)

	// Quality gates (upsert)
	SaveQualityGate(ctx context.Context, gate *QualityGate) error

	// Conflicts
	SaveConflict(ctx context.Context, c *Conflict) error
	UpdateConflict(ctx context.Context, c *Conflict) error

	// Tasks
	SaveTask(ctx context.Context, task *Task) error
	UpdateTask(ctx context.Context, task *Task) error

	// Progress log (append-only)
	SaveProgress(ctx context.Context, entry *ProgressEntry) error
	ListProgress(ctx context.Context, agentID string, limit int) ([]*ProgressEntry, error)

	// Close releases any resources held by the store
	Close() error
}

// Bounded derives a context for one store call. A non-positive timeout
// leaves the parent deadline in charge.
func Bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
