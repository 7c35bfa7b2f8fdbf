// ABOUTME: Tests for the agent registry
// ABOUTME: Covers seeding, authentication, token checks, progress and status updates

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-hub/internal/auth"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/store"
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *store.MockStore, *recorder) {
	t.Helper()
	issuer, err := auth.NewJWTIssuer([]byte("registry-test-signing-secret"), 0)
	require.NoError(t, err)

	ms := store.NewMockStore()
	rec := &recorder{}
	opts = append([]Option{
		WithHashCost(bcrypt.MinCost),
		WithSecretLookup(func(string) string { return "" }),
		WithLoginLimit(1000, 1000),
	}, opts...)
	r := NewRegistry(issuer, ms, rec, nil, opts...)
	require.NoError(t, r.Seed(DefaultRoster))
	return r, ms, rec
}

func TestRegistry_SeedsFiveOfflineAgents(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	agents := r.ListAgents()
	require.Len(t, agents, 5)
	for i, a := range agents {
		assert.Equal(t, DefaultRoster[i].ID, a.ID)
		assert.Equal(t, StatusOffline, a.Status)
		assert.Equal(t, 0, a.Progress)
		assert.NotEmpty(t, a.Capabilities)
	}
	assert.Equal(t, []string{"agent1", "agent2", "agent3", "agent4", "agent5"}, r.IDs())
}

func TestRegistry_SeedTwiceFails(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	err := r.Seed(DefaultRoster[:1])
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestRegistry_AuthenticateScenario(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	ctx := context.Background()

	result, err := r.Authenticate(ctx, "agent1", "agent1-password-2024")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, StatusActive, result.Agent.Status)
	assert.NoError(t, r.VerifyToken("agent1", result.Token))

	_, err = r.Authenticate(ctx, "agent1", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	a, err := r.GetAgent("agent1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)

	changes := rec.ofType(events.AgentStatusChanged)
	require.Len(t, changes, 1)
	change := changes[0].Data.(StatusChange)
	assert.Equal(t, StatusOffline, change.From)
	assert.Equal(t, StatusActive, change.To)
}

func TestRegistry_AuthenticateFromAnyStatus(t *testing.T) {
	for _, from := range []Status{StatusOffline, StatusActive, StatusBlocked, StatusCompleted} {
		t.Run(string(from), func(t *testing.T) {
			r, _, _ := newTestRegistry(t)
			before, err := r.UpdateStatus("agent3", from, nil)
			require.NoError(t, err)

			result, err := r.Authenticate(context.Background(), "agent3", "agent3-password-2024")
			require.NoError(t, err)
			assert.Equal(t, StatusActive, result.Agent.Status)
			assert.True(t, result.Agent.LastUpdate.After(before.LastUpdate))
		})
	}
}

func TestRegistry_WrongSecretLeavesStatus(t *testing.T) {
	r, _, rec := newTestRegistry(t)

	for _, agentID := range r.IDs() {
		before, err := r.GetAgent(agentID)
		require.NoError(t, err)

		_, err = r.Authenticate(context.Background(), agentID, "definitely-wrong")
		assert.ErrorIs(t, err, fault.ErrInvalidCredentials)

		after, err := r.GetAgent(agentID)
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.LastUpdate, after.LastUpdate)
	}
	assert.Empty(t, rec.ofType(events.AgentStatusChanged))
}

func TestRegistry_AuthenticateUnknownAgent(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Authenticate(context.Background(), "agent9", "x")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestRegistry_SecretFromEnvironment(t *testing.T) {
	r, _, _ := newTestRegistry(t, WithSecretLookup(func(key string) string {
		if key == "AGENT2_SECRET" {
			return "from-env"
		}
		return ""
	}))
	ctx := context.Background()

	_, err := r.Authenticate(ctx, "agent2", "agent2-password-2024")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Authenticate(ctx, "agent2", "from-env")
	assert.NoError(t, err)
}

func TestRegistry_LoginRateLimit(t *testing.T) {
	r, _, _ := newTestRegistry(t, WithLoginLimit(0.001, 2))
	ctx := context.Background()

	_, err := r.Authenticate(ctx, "agent4", "bad")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = r.Authenticate(ctx, "agent4", "bad")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Authenticate(ctx, "agent4", "agent4-password-2024")
	assert.ErrorIs(t, err, fault.ErrRateLimited)

	a, _ := r.GetAgent("agent4")
	assert.Equal(t, StatusOffline, a.Status)

	// Other agents have their own budget
	_, err = r.Authenticate(ctx, "agent5", "agent5-password-2024")
	assert.NoError(t, err)
}

func TestRegistry_VerifyToken(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	result, err := r.Authenticate(context.Background(), "agent2", "agent2-password-2024")
	require.NoError(t, err)

	assert.NoError(t, r.VerifyToken("agent2", result.Token))
	assert.ErrorIs(t, r.VerifyToken("agent3", result.Token), fault.ErrInvalidToken)
	assert.ErrorIs(t, r.VerifyToken("agent2", "garbage"), fault.ErrInvalidToken)
}

func TestRegistry_UpdateProgress(t *testing.T) {
	r, ms, rec := newTestRegistry(t)
	ctx := context.Background()
	before, _ := r.GetAgent("agent2")

	payload := json.RawMessage(`{"status":"blocked","progress":{"overall":40,"backend":55},"notes":"waiting on schema"}`)
	a, err := r.UpdateProgress(ctx, "agent2", payload)
	require.NoError(t, err)
	assert.Equal(t, 40, a.Progress)
	assert.Equal(t, StatusBlocked, a.Status)
	assert.True(t, a.LastUpdate.After(before.LastUpdate))

	entries, err := ms.ListProgress(ctx, "agent2", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, string(payload), string(entries[0].Payload))

	assert.Len(t, rec.ofType(events.AgentProgressUpdated), 1)
	assert.Len(t, rec.ofType(events.AgentStatusChanged), 1)
}

func TestRegistry_UpdateProgressPartialPayload(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	a, err := r.UpdateProgress(context.Background(), "agent5", json.RawMessage(`{"notes":"just checking in"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Progress)
	assert.Equal(t, StatusOffline, a.Status)
}

func TestRegistry_UpdateProgressValidation(t *testing.T) {
	r, ms, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		agentID string
		payload string
		want    error
	}{
		{name: "unknown agent", agentID: "ghost", payload: `{}`, want: fault.ErrNotFound},
		{name: "malformed json", agentID: "agent1", payload: `{`, want: fault.ErrValidation},
		{name: "progress too high", agentID: "agent1", payload: `{"progress":{"overall":101}}`, want: fault.ErrValidation},
		{name: "negative progress", agentID: "agent1", payload: `{"progress":{"overall":-1}}`, want: fault.ErrValidation},
		{name: "unknown status", agentID: "agent1", payload: `{"status":"sleeping"}`, want: fault.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.UpdateProgress(ctx, tt.agentID, json.RawMessage(tt.payload))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, ms.Calls(store.OpSaveProgress))
}

func TestRegistry_UpdateProgressPersistenceFailureKeepsState(t *testing.T) {
	r, ms, _ := newTestRegistry(t)
	ms.FailOn(store.OpSaveProgress, errors.New("disk full"))

	a, err := r.UpdateProgress(context.Background(), "agent1", json.RawMessage(`{"progress":{"overall":70}}`))
	assert.ErrorIs(t, err, fault.ErrPersistence)
	assert.Equal(t, 70, a.Progress)

	current, _ := r.GetAgent("agent1")
	assert.Equal(t, 70, current.Progress)
}

func TestRegistry_UpdateStatus(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	progress := 100

	a, err := r.UpdateStatus("agent4", StatusCompleted, &progress)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	assert.Len(t, rec.ofType(events.AgentStatusChanged), 1)

	_, err = r.UpdateStatus("nobody", StatusActive, nil)
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = r.UpdateStatus("agent4", "dancing", nil)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestRegistry_LastUpdateMonotonic(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	var last time.Time
	for i := 0; i < 5; i++ {
		a, err := r.UpdateStatus("agent1", StatusActive, nil)
		require.NoError(t, err)
		assert.True(t, a.LastUpdate.After(last), "update %d did not advance lastUpdate", i)
		last = a.LastUpdate
	}
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	a, _ := r.GetAgent("agent1")
	a.Capabilities[0] = "mutated"

	again, _ := r.GetAgent("agent1")
	assert.NotEqual(t, "mutated", again.Capabilities[0])
}

func TestRegistry_Stale(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	start := time.Now()
	r.now = func() time.Time { return start.Add(3 * time.Hour) }

	_, err := r.UpdateStatus("agent1", StatusActive, nil)
	require.NoError(t, err)

	stale := r.Stale(time.Hour)
	ids := make([]string, 0, len(stale))
	for _, a := range stale {
		ids = append(ids, a.ID)
	}
	assert.NotContains(t, ids, "agent1")
	assert.Len(t, ids, 4)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, _ = r.UpdateProgress(ctx, "agent2", json.RawMessage(`{"progress":{"overall":50}}`))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.ListAgents()
		}()
	}
	wg.Wait()

	a, _ := r.GetAgent("agent2")
	assert.Equal(t, 50, a.Progress)
}
