// ABOUTME: Tests for the NATS event relay
// ABOUTME: Uses an embedded nats-server on a random port

package relay

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-hub/internal/events"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func subscribe(t *testing.T, url, subject string) *nats.Subscription {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return sub
}

func TestRelay_ForwardsBusEvents(t *testing.T) {
	server := startTestNATSServer(t)
	sub := subscribe(t, server.ClientURL(), "coven.hub.>")

	r, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)
	defer r.Close()

	bus := events.NewBus(nil)
	r.Attach(bus)

	bus.Publish(events.New(events.MessageSent, "agent1", map[string]string{"to": "agent2"}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "coven.hub.message.sent", msg.Subject)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, events.MessageSent, got.Type)
	assert.Equal(t, "agent1", got.AgentID)
	assert.NotEmpty(t, got.ID)

	published, failed := r.Stats()
	assert.Equal(t, 1, published)
	assert.Zero(t, failed)
}

func TestRelay_CustomPrefix(t *testing.T) {
	server := startTestNATSServer(t)
	sub := subscribe(t, server.ClientURL(), "team.events.conflict.*")

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	r := New(nc, "team.events", nil)
	assert.Equal(t, "team.events.conflict.created", r.Subject(events.ConflictCreated))
	require.NoError(t, r.Publish(events.New(events.ConflictCreated, "agent3", nil)))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "team.events.conflict.created", msg.Subject)

	require.NoError(t, r.Close())
	assert.False(t, nc.IsClosed())
}

func TestRelay_CloseDetaches(t *testing.T) {
	server := startTestNATSServer(t)

	r, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)

	bus := events.NewBus(nil)
	r.Attach(bus)
	assert.Equal(t, 1, bus.HandlerCount())

	require.NoError(t, r.Close())
	assert.Zero(t, bus.HandlerCount())
	assert.True(t, r.nc.IsClosed())
}

func TestRelay_PublishAfterCloseFails(t *testing.T) {
	server := startTestNATSServer(t)

	r, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	err = r.Publish(events.New(events.TaskScheduled, "agent2", nil))
	assert.Error(t, err)
	_, failed := r.Stats()
	assert.Equal(t, 1, failed)
}

func TestRelay_UnmarshalableDataCounted(t *testing.T) {
	server := startTestNATSServer(t)
	r, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)
	defer r.Close()

	err = r.Publish(events.New(events.TaskScheduled, "agent2", make(chan int)))
	assert.Error(t, err)
	_, failed := r.Stats()
	assert.Equal(t, 1, failed)
}
