// ABOUTME: Mirrors coordination events onto NATS subjects
// ABOUTME: Each event is published as JSON to <prefix>.<event type>

package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/coven-hub/internal/events"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "coven.hub"

// Subscriber is the part of events.Bus the relay needs.
type Subscriber interface {
	OnAll(h events.Handler) string
	Off(id string) bool
}

// Relay forwards bus events to NATS. Publishing is fire and forget: a
// relay failure is logged and never reaches the component that emitted
// the event.
type Relay struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	logger *slog.Logger

	mu           sync.Mutex
	source       Subscriber
	subscription string
	published    int
	failed       int
}

// Connect dials url and returns a relay that closes the connection on Close.
func Connect(url, prefix string, logger *slog.Logger) (*Relay, error) {
	nc, err := nats.Connect(url,
		nats.Name("coven-hub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	r := New(nc, prefix, logger)
	r.owned = true
	r.logger.Info("connected to NATS", "url", url, "prefix", r.prefix)
	return r, nil
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *nats.Conn, prefix string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Relay{
		nc:     nc,
		prefix: prefix,
		logger: logger.With("component", "relay"),
	}
}

// Subject returns the subject an event type is published to.
func (r *Relay) Subject(t events.Type) string {
	return r.prefix + "." + string(t)
}

// Attach forwards every event from src until Close.
func (r *Relay) Attach(src Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source != nil {
		r.source.Off(r.subscription)
	}
	r.source = src
	r.subscription = src.OnAll(r.forward)
}

func (r *Relay) forward(e events.Event) {
	if err := r.Publish(e); err != nil {
		r.logger.Warn("failed to relay event", "type", e.Type, "event_id", e.ID, "error", err)
	}
}

// Publish sends one event.
func (r *Relay) Publish(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		r.count(false)
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.nc.Publish(r.Subject(e.Type), data); err != nil {
		r.count(false)
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	r.count(true)
	return nil
}

func (r *Relay) count(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.published++
	} else {
		r.failed++
	}
}

// Stats returns how many events were relayed and how many failed.
func (r *Relay) Stats() (published, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published, r.failed
}

// Close detaches from the bus and flushes pending publishes. An owned
// connection is closed as well.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.source != nil {
		r.source.Off(r.subscription)
		r.source = nil
	}
	r.mu.Unlock()

	var err error
	if !r.nc.IsClosed() {
		err = r.nc.FlushTimeout(2 * time.Second)
	}
	if r.owned {
		r.nc.Close()
	}
	return err
}
