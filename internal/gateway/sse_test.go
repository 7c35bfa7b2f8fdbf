// ABOUTME: Tests for the SSE event stream
// ABOUTME: Covers stream authentication, event relay and hub shutdown

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-hub/internal/conflict"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/messaging"
	"github.com/2389/coven-hub/internal/store"
)

type sseFrame struct {
	event string
	data  string
}

// openStream connects and consumes the "connected" frame.
func openStream(t *testing.T, env *testEnv, agentID, token string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/events?agent_id="+agentID+"&token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first, err := readFrame(reader)
	require.NoError(t, err)
	require.Equal(t, "connected", first.event)

	return reader, func() {
		cancel()
		resp.Body.Close()
	}
}

func readFrame(r *bufio.Reader) (sseFrame, error) {
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return f, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				return f, nil
			}
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func readUntil(t *testing.T, r *bufio.Reader, event string) sseFrame {
	t.Helper()
	frames := collectUntil(t, r, event)
	return frames[len(frames)-1]
}

// collectUntil returns every frame read up to and including the first
// frame of the given event type.
func collectUntil(t *testing.T, r *bufio.Reader, event string) []sseFrame {
	t.Helper()
	done := make(chan []sseFrame, 1)
	errs := make(chan error, 1)
	go func() {
		var seen []sseFrame
		for {
			f, err := readFrame(r)
			if err != nil {
				errs <- err
				return
			}
			seen = append(seen, f)
			if f.event == event {
				done <- seen
				return
			}
		}
	}()
	select {
	case frames := <-done:
		return frames
	case err := <-errs:
		t.Fatalf("stream ended before %q frame: %v", event, err)
		return nil
	case <-time.After(5 * time.Second):
		t.Fatalf("no %q frame", event)
		return nil
	}
}

func TestEvents_RelaysHubEvents(t *testing.T) {
	env := newTestEnv(t, true)
	token := login(t, env, "agent2")

	reader, closeStream := openStream(t, env, "agent2", token)
	defer closeStream()

	_, err := env.hub.SendMessage(context.Background(), messaging.SendRequest{From: "agent1", To: "agent2", Content: "schema merged"})
	require.NoError(t, err)

	f := readUntil(t, reader, string(events.MessageSent))
	var e events.Event
	require.NoError(t, json.Unmarshal([]byte(f.data), &e))
	assert.Equal(t, events.MessageSent, e.Type)
	assert.Equal(t, "agent2", e.AgentID)
	assert.Contains(t, f.data, "schema merged")
}

func TestEvents_OnlyOwnMessagesAndConflicts(t *testing.T) {
	env := newTestEnv(t, true)
	token := login(t, env, "agent3")

	reader, closeStream := openStream(t, env, "agent3", token)
	defer closeStream()

	ctx := context.Background()
	_, err := env.hub.SendMessage(ctx, messaging.SendRequest{From: "agent1", To: "agent2", Content: "secret-for-agent2-only"})
	require.NoError(t, err)
	_, err = env.hub.CreateConflict(ctx, conflict.Report{
		Type: store.ConflictResource, Description: "db pool", Severity: store.SeverityLow, Agents: []string{"agent1", "agent2"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, env.hub.DeliverPending(ctx))
	_, err = env.hub.CreateConflict(ctx, conflict.Report{
		Type: store.ConflictCode, Description: "shared component", Severity: store.SeverityMedium, Agents: []string{"agent3", "agent4"},
	})
	require.NoError(t, err)
	_, err = env.hub.SendMessage(ctx, messaging.SendRequest{From: "agent1", To: "agent3", Content: "for-agent3"})
	require.NoError(t, err)

	frames := collectUntil(t, reader, string(events.MessageSent))
	last := frames[len(frames)-1]
	assert.Contains(t, last.data, "for-agent3")

	var conflicts int
	for _, f := range frames {
		assert.NotContains(t, f.data, "secret-for-agent2-only")
		assert.NotEqual(t, string(events.MessageDelivered), f.event)
		if f.event == string(events.ConflictCreated) {
			conflicts++
			assert.Contains(t, f.data, "shared component")
		}
	}
	assert.Equal(t, 1, conflicts)
}

func TestVisibleTo(t *testing.T) {
	msg := &store.Message{ID: "m1", From: "agent1", To: "agent2", Content: "hi"}
	c := &store.Conflict{ID: "c1", Agents: []string{"agent2", "agent5"}}

	tests := []struct {
		name  string
		event events.Event
		agent string
		want  bool
	}{
		{name: "message recipient", event: events.New(events.MessageSent, "agent2", msg), agent: "agent2", want: true},
		{name: "message sender", event: events.New(events.MessageDelivered, "agent2", msg), agent: "agent1", want: true},
		{name: "message bystander", event: events.New(events.MessageSent, "agent2", msg), agent: "agent3", want: false},
		{name: "read change for recipient", event: events.New(events.MessageRead, "agent2", messaging.ReadChange{MessageID: "m1", Read: true}), agent: "agent2", want: true},
		{name: "read change bystander", event: events.New(events.MessageRead, "agent2", messaging.ReadChange{MessageID: "m1", Read: true}), agent: "agent4", want: false},
		{name: "conflict involved", event: events.New(events.ConflictCreated, "agent2", c), agent: "agent5", want: true},
		{name: "conflict bystander", event: events.New(events.ConflictResolved, "agent2", c), agent: "agent1", want: false},
		{name: "schedule broadcast", event: events.New(events.DailyStandupTriggered, "", nil), agent: "agent4", want: true},
		{name: "other agent status", event: events.New(events.AgentStatusChanged, "agent1", nil), agent: "agent4", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, visibleTo(tt.event, tt.agent))
		})
	}
}

func TestEvents_BearerHeader(t *testing.T) {
	env := newTestEnv(t, true)
	token := login(t, env, "agent3")

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/events?agent_id=agent3", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvents_Rejected(t *testing.T) {
	env := newTestEnv(t, true)
	token := login(t, env, "agent1")

	tests := []struct {
		name  string
		query string
	}{
		{"missing token", "?agent_id=agent1"},
		{"missing agent", "?token=" + token},
		{"token for another agent", "?agent_id=agent2&token=" + token},
		{"unknown agent", "?agent_id=agent9&token=" + token},
		{"garbage token", "?agent_id=agent1&token=garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + "/api/events" + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestEvents_HubCloseEndsStream(t *testing.T) {
	env := newTestEnv(t, true)
	token := login(t, env, "agent4")

	reader, closeStream := openStream(t, env, "agent4", token)
	defer closeStream()

	require.NoError(t, env.hub.Close(context.Background()))
	readUntil(t, reader, "shutdown")
}
