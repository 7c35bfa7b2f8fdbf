// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory maps plus injectable per-operation failures

package store

import (
	"context"
	"sort"
	"sync"
)

// Operation names accepted by MockStore.FailOn.
const (
	OpInitialize      = "initialize"
	OpSaveMessage     = "save_message"
	OpUpdateMessage   = "update_message"
	OpGetMessages     = "get_messages"
	OpSaveQualityGate = "save_quality_gate"
	OpSaveConflict    = "save_conflict"
	OpUpdateConflict  = "update_conflict"
	OpSaveTask        = "save_task"
	OpUpdateTask      = "update_task"
	OpSaveProgress    = "save_progress"
	OpListProgress    = "list_progress"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	messages  map[string]*Message
	gates     map[string]*QualityGate
	conflicts map[string]*Conflict
	tasks     map[string]*Task
	progress  []*ProgressEntry
	failures  map[string]error
	calls     map[string]int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages:  make(map[string]*Message),
		gates:     make(map[string]*QualityGate),
		conflicts: make(map[string]*Conflict),
		tasks:     make(map[string]*Task),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked.
func (m *MockStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// enter records the call and returns the injected failure. Must hold mu.
func (m *MockStore) enter(op string) error {
	m.calls[op]++
	return m.failures[op]
}

// Initialize is a no-op unless a failure is injected.
func (m *MockStore) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter(OpInitialize)
}

func cloneMessage(msg *Message) *Message {
	c := *msg
	if msg.Metadata != nil {
		c.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SaveMessage stores a copy of the message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpSaveMessage); err != nil {
		return err
	}
	m.messages[msg.ID] = cloneMessage(msg)
	return nil
}

// UpdateMessage replaces a stored message.
func (m *MockStore) UpdateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpUpdateMessage); err != nil {
		return err
	}
	if _, ok := m.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ID] = cloneMessage(msg)
	return nil
}

// GetMessagesForAgent returns messages to or from the agent, newest first.
func (m *MockStore) GetMessagesForAgent(ctx context.Context, agentID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpGetMessages); err != nil {
		return nil, err
	}
	var result []*Message
	for _, msg := range m.messages {
		if msg.To == agentID || msg.From == agentID {
			result = append(result, cloneMessage(msg))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// GetRecentMessages returns up to limit messages, newest first.
func (m *MockStore) GetRecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpGetMessages); err != nil {
		return nil, err
	}
	result := make([]*Message, 0, len(m.messages))
	for _, msg := range m.messages {
		result = append(result, cloneMessage(msg))
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortNewestFirst(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
}

// SaveQualityGate stores a copy of the gate.
func (m *MockStore) SaveQualityGate(ctx context.Context, gate *QualityGate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpSaveQualityGate); err != nil {
		return err
	}
	m.gates[gate.ID] = gate.Clone()
	return nil
}

// GetQualityGate returns a stored gate.
func (m *MockStore) GetQualityGate(ctx context.Context, id string) (*QualityGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.gates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func cloneConflict(c *Conflict) *Conflict {
	cp := *c
	cp.Agents = append([]string(nil), c.Agents...)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// SaveConflict stores a copy of the conflict.
func (m *MockStore) SaveConflict(ctx context.Context, c *Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpSaveConflict); err != nil {
		return err
	}
	m.conflicts[c.ID] = cloneConflict(c)
	return nil
}

// UpdateConflict replaces a stored conflict.
func (m *MockStore) UpdateConflict(ctx context.Context, c *Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpUpdateConflict); err != nil {
		return err
	}
	if _, ok := m.conflicts[c.ID]; !ok {
		return ErrNotFound
	}
	m.conflicts[c.ID] = cloneConflict(c)
	return nil
}

// GetConflict returns a stored conflict.
func (m *MockStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConflict(c), nil
}

// SaveTask stores a copy of the task.
func (m *MockStore) SaveTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpSaveTask); err != nil {
		return err
	}
	t := *task
	m.tasks[t.ID] = &t
	return nil
}

// UpdateTask replaces a stored task.
func (m *MockStore) UpdateTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpUpdateTask); err != nil {
		return err
	}
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	t := *task
	m.tasks[t.ID] = &t
	return nil
}

// GetTask returns a stored task.
func (m *MockStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// SaveProgress appends a progress entry.
func (m *MockStore) SaveProgress(ctx context.Context, entry *ProgressEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpSaveProgress); err != nil {
		return err
	}
	e := *entry
	e.Payload = append([]byte(nil), entry.Payload...)
	m.progress = append(m.progress, &e)
	return nil
}

// ListProgress returns an agent's entries, newest first.
func (m *MockStore) ListProgress(ctx context.Context, agentID string, limit int) ([]*ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpListProgress); err != nil {
		return nil, err
	}
	var result []*ProgressEntry
	for i := len(m.progress) - 1; i >= 0; i-- {
		if m.progress[i].AgentID != agentID {
			continue
		}
		e := *m.progress[i]
		result = append(result, &e)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
