// ABOUTME: Tests for the Prometheus collector
// ABOUTME: Feeds events through a real bus and scrapes the handler

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-hub/internal/agent"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/quality"
	"github.com/2389/coven-hub/internal/store"
)

func TestCollector_CountsEvents(t *testing.T) {
	bus := events.NewBus(nil)
	c := NewCollector(nil)
	c.Attach(bus)

	bus.Publish(events.New(events.MessageSent, "agent1", nil))
	bus.Publish(events.New(events.MessageSent, "agent1", nil))
	bus.Publish(events.New(events.MessageDelivered, "agent2", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.EventsTotal.WithLabelValues(string(events.MessageSent))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EventsTotal.WithLabelValues(string(events.MessageDelivered))))
}

func TestCollector_TypedPayloads(t *testing.T) {
	c := NewCollector(nil)

	c.Observe(events.New(events.QualityGateCompleted, "agent4", quality.RunResult{
		Gate:     &store.QualityGate{ID: "test-coverage", Status: store.GateWarning},
		Duration: 2 * time.Millisecond,
	}))
	c.Observe(events.New(events.ConflictCreated, "agent1", &store.Conflict{Type: store.ConflictResource, Status: store.ConflictOpen}))
	c.Observe(events.New(events.ConflictResolved, "agent1", &store.Conflict{Type: store.ConflictResource, Status: store.ConflictResolved}))
	c.Observe(events.New(events.AgentStatusChanged, "agent1", agent.StatusChange{From: agent.StatusOffline, To: agent.StatusActive}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.GateRunsTotal.WithLabelValues("test-coverage", "warning")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.GateDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConflictTransitions.WithLabelValues("resource", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConflictTransitions.WithLabelValues("resource", "resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AgentStatusChanges.WithLabelValues("active")))
}

func TestCollector_Detach(t *testing.T) {
	bus := events.NewBus(nil)
	c := NewCollector(nil)
	c.Attach(bus)
	c.Detach()

	bus.Publish(events.New(events.TaskScheduled, "agent2", nil))
	assert.Equal(t, 0, bus.HandlerCount())
	assert.Equal(t, 0, testutil.CollectAndCount(c.EventsTotal))
}

func TestCollector_Handler(t *testing.T) {
	queued := 3.0
	c := NewCollector(func() float64 { return queued })
	c.Observe(events.New(events.TaskScheduled, "agent2", nil))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "coven_hub_messages_queued 3")
	assert.Contains(t, string(body), `coven_hub_events_total{type="task.scheduled"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCollectors_Independent(t *testing.T) {
	a := NewCollector(nil)
	b := NewCollector(nil)
	a.Observe(events.New(events.MessageRead, "agent1", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(a.EventsTotal))
	assert.Equal(t, 0, testutil.CollectAndCount(b.EventsTotal))
}
