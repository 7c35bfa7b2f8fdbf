// ABOUTME: Tests for the SQLite store
// ABOUTME: Covers schema init, message ordering, conflict/gate/task round trips and progress log

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestSQLiteStore_InitializeIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Initialize(context.Background()))
}

func TestSQLiteStore_MemoryDatabase(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.SaveMessage(ctx, &Message{
		ID: "m1", From: "agent1", To: "agent2", Content: "hi",
		Priority: PriorityLow, Type: MessageTypeText, Timestamp: time.Now(),
	}))

	msgs, err := s.GetRecentMessages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSQLiteStore_MessagesNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			ID:        id,
			From:      "agent1",
			To:        "agent2",
			Content:   "message " + id,
			Priority:  PriorityMedium,
			Type:      MessageTypeText,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Metadata:  map[string]string{"seq": id},
		}))
	}
	require.NoError(t, s.SaveMessage(ctx, &Message{
		ID: "other", From: "agent3", To: "agent4", Content: "unrelated",
		Priority: PriorityLow, Type: MessageTypeAlert, Timestamp: base.Add(time.Minute),
	}))

	msgs, err := s.GetMessagesForAgent(ctx, "agent2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m1", msgs[2].ID)
	assert.Equal(t, map[string]string{"seq": "m3"}, msgs[0].Metadata)
	assert.True(t, msgs[0].Timestamp.Equal(base.Add(2*time.Second)))

	// Sender side sees the same conversation
	sent, err := s.GetMessagesForAgent(ctx, "agent1")
	require.NoError(t, err)
	assert.Len(t, sent, 3)

	recent, err := s.GetRecentMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other", recent[0].ID)
	assert.Equal(t, "m3", recent[1].ID)
}

func TestSQLiteStore_UpdateMessage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	msg := &Message{
		ID: "m1", From: "agent1", To: "agent2", Content: "hi",
		Priority: PriorityLow, Type: MessageTypeText, Timestamp: time.Now(),
	}
	require.NoError(t, s.SaveMessage(ctx, msg))

	msg.Read = true
	require.NoError(t, s.UpdateMessage(ctx, msg))

	msgs, err := s.GetMessagesForAgent(ctx, "agent2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)

	err = s.UpdateMessage(ctx, &Message{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_RejectsInvalidMessagePriority(t *testing.T) {
	s := setupTestStore(t)
	err := s.SaveMessage(context.Background(), &Message{
		ID: "bad", From: "a", To: "b", Priority: "urgent", Type: MessageTypeText, Timestamp: time.Now(),
	})
	assert.Error(t, err)
}

func TestSQLiteStore_ConflictLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Millisecond)

	c := &Conflict{
		ID:          "c1",
		Type:        ConflictResource,
		Description: "both agents need the staging db",
		Severity:    SeverityHigh,
		Agents:      []string{"agent1", "agent2"},
		Status:      ConflictOpen,
		CreatedAt:   created,
	}
	require.NoError(t, s.SaveConflict(ctx, c))

	resolved := created.Add(time.Hour)
	c.Status = ConflictResolved
	c.ResolvedAt = &resolved
	c.Resolution = "reallocated"
	require.NoError(t, s.UpdateConflict(ctx, c))

	got, err := s.GetConflict(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ConflictResolved, got.Status)
	assert.Equal(t, "reallocated", got.Resolution)
	assert.Equal(t, []string{"agent1", "agent2"}, got.Agents)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolved))
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = s.GetConflict(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateConflict(ctx, &Conflict{ID: "nope", Status: ConflictOpen}), ErrNotFound)
}

func TestSQLiteStore_QualityGateUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	gate := &QualityGate{
		ID:      "code-quality",
		Name:    "Code Quality",
		Type:    GateCode,
		Status:  GatePending,
		AgentID: "agent2",
		Criteria: []QualityCriteria{
			{Name: "coverage", Threshold: 80, Current: 0, Status: CriterionPass},
		},
		NextRun: now,
	}
	require.NoError(t, s.SaveQualityGate(ctx, gate))

	gate.Status = GateFailing
	gate.Criteria[0].Current = 12.5
	gate.Criteria[0].Status = CriterionFail
	gate.LastRun = now
	require.NoError(t, s.SaveQualityGate(ctx, gate))

	got, err := s.GetQualityGate(ctx, "code-quality")
	require.NoError(t, err)
	assert.Equal(t, GateFailing, got.Status)
	require.Len(t, got.Criteria, 1)
	assert.InDelta(t, 12.5, got.Criteria[0].Current, 0.0001)
	assert.Equal(t, CriterionFail, got.Criteria[0].Status)
}

func TestSQLiteStore_TaskRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	due := now.Add(48 * time.Hour)

	task := &Task{
		ID: "t1", Name: "schema", Description: "design schema", AgentID: "agent1",
		Status: TaskPending, Priority: PriorityHigh, EstimatedHours: 4,
		Dependencies: []string{"t0"}, CreatedAt: now, UpdatedAt: now, DueDate: &due,
	}
	require.NoError(t, s.SaveTask(ctx, task))

	task.Status = TaskCompleted
	task.ActualHours = 5
	task.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.InDelta(t, 5.0, got.ActualHours, 0.0001)
	assert.Equal(t, []string{"t0"}, got.Dependencies)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
}

func TestSQLiteStore_ProgressLogAppendOnly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(map[string]int{"overall": i * 10})
		require.NoError(t, s.SaveProgress(ctx, &ProgressEntry{
			ID:        "p" + string(rune('a'+i)),
			AgentID:   "agent3",
			Payload:   payload,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := s.ListProgress(ctx, "agent3", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pc", entries[0].ID)
	assert.JSONEq(t, `{"overall":20}`, string(entries[0].Payload))
}
