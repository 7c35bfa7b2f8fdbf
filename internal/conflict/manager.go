// ABOUTME: Conflict lifecycle: open, in-progress, then resolved or escalated
// ABOUTME: Resolution narratives come from per-type strategies when not supplied

package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/store"
)

// ErrConflictNotFound is returned for unknown conflict ids.
var ErrConflictNotFound = fmt.Errorf("conflict %w", fault.ErrNotFound)

// DefaultDetectionProbability is the chance a sweep synthesizes a conflict.
const DefaultDetectionProbability = 0.1

// Report is the caller-supplied part of a new conflict.
type Report struct {
	Type        store.ConflictType `json:"type"`
	Description string             `json:"description"`
	Severity    store.Severity     `json:"severity"`
	Agents      []string           `json:"agents"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithDetector replaces the random detector.
func WithDetector(d Detector) Option {
	return func(m *Manager) { m.detector = d }
}

// WithPersistTimeout bounds every store call made by the manager.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// Manager owns the conflict map and the strategy registry.
type Manager struct {
	mu         sync.RWMutex
	conflicts  map[string]*store.Conflict
	order      []string
	strategies map[store.ConflictType]Strategy

	detector Detector
	store    store.Store
	bus      events.Publisher
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewManager creates a manager with the default strategies and a random
// detector at DefaultDetectionProbability.
func NewManager(s store.Store, bus events.Publisher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		conflicts:  make(map[string]*store.Conflict),
		strategies: DefaultStrategies(),
		detector:   NewRandomDetector(DefaultDetectionProbability, nil),
		store:      s,
		bus:        bus,
		logger:     logger.With("component", "conflict_manager"),
		timeout:    5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterStrategy installs the strategy used for conflicts of type t.
func (m *Manager) RegisterStrategy(t store.ConflictType, s Strategy) error {
	if !t.Valid() {
		return fault.Validation("unknown conflict type %q", t)
	}
	if s == nil {
		return fault.Validation("strategy for %s is nil", t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[t] = s
	return nil
}

func (m *Manager) publish(t events.Type, c *store.Conflict) {
	if m.bus == nil {
		return
	}
	var agentID string
	if len(c.Agents) > 0 {
		agentID = c.Agents[0]
	}
	m.bus.Publish(events.New(t, agentID, c))
}

// CreateConflict records a new open conflict.
func (m *Manager) CreateConflict(ctx context.Context, r Report) (*store.Conflict, error) {
	if !r.Type.Valid() {
		return nil, fault.Validation("unknown conflict type %q", r.Type)
	}
	if r.Severity == "" {
		r.Severity = store.SeverityMedium
	}
	if !r.Severity.Valid() {
		return nil, fault.Validation("unknown severity %q", r.Severity)
	}
	if len(r.Agents) == 0 {
		return nil, fault.Validation("conflict must involve at least one agent")
	}
	if r.Description == "" {
		r.Description = fmt.Sprintf("%s conflict between %s", r.Type, joinAgents(r.Agents))
	}

	c := &store.Conflict{
		ID:          uuid.New().String(),
		Type:        r.Type,
		Description: r.Description,
		Severity:    r.Severity,
		Agents:      append([]string(nil), r.Agents...),
		Status:      store.ConflictOpen,
		CreatedAt:   m.now().UTC(),
	}

	m.mu.Lock()
	m.conflicts[c.ID] = c
	m.order = append(m.order, c.ID)
	snapshot := cloneConflict(c)
	m.mu.Unlock()

	m.logger.Info("conflict created", "conflict_id", c.ID, "type", c.Type, "severity", c.Severity, "agents", c.Agents)
	m.publish(events.ConflictCreated, snapshot)

	return snapshot, m.persist(ctx, snapshot, true)
}

// AcknowledgeConflict moves an open conflict to in-progress.
func (m *Manager) AcknowledgeConflict(ctx context.Context, id string) (*store.Conflict, error) {
	return m.transition(ctx, id, store.ConflictInProgress, events.ConflictAcknowledged, func(c *store.Conflict) error {
		if c.Status != store.ConflictOpen {
			return fault.Transition("conflict", c.Status, store.ConflictInProgress)
		}
		return nil
	})
}

// ResolveConflict closes a conflict with a resolution narrative. An empty
// resolution is produced by the strategy for the conflict's type, which
// runs without the manager lock held. A conflict is resolved at most once.
func (m *Manager) ResolveConflict(ctx context.Context, id, resolution string) (*store.Conflict, error) {
	if resolution == "" {
		narrative, err := m.narrate(id)
		if err != nil {
			return nil, err
		}
		resolution = narrative
	}
	return m.transition(ctx, id, store.ConflictResolved, events.ConflictResolved, func(c *store.Conflict) error {
		if c.Status.Terminal() {
			return fault.Transition("conflict", c.Status, store.ConflictResolved)
		}
		resolvedAt := m.now().UTC()
		c.Resolution = resolution
		c.ResolvedAt = &resolvedAt
		return nil
	})
}

// narrate asks the strategy for the conflict's type to describe a
// resolution. transition re-checks the status afterwards.
func (m *Manager) narrate(id string) (string, error) {
	m.mu.RLock()
	c, ok := m.conflicts[id]
	if !ok {
		m.mu.RUnlock()
		return "", ErrConflictNotFound
	}
	view := cloneConflict(c)
	strategy, hasStrategy := m.strategies[c.Type]
	m.mu.RUnlock()

	if view.Status.Terminal() {
		return "", fault.Transition("conflict", view.Status, store.ConflictResolved)
	}
	if !hasStrategy {
		return "", fault.Validation("no resolution given and no strategy for %s", view.Type)
	}
	return strategy(*view), nil
}

// EscalateConflict hands a conflict to escalatedTo. Escalated is terminal.
func (m *Manager) EscalateConflict(ctx context.Context, id, escalatedTo string) (*store.Conflict, error) {
	if escalatedTo == "" {
		return nil, fault.Validation("escalation target is required")
	}
	return m.transition(ctx, id, store.ConflictEscalated, events.ConflictEscalated, func(c *store.Conflict) error {
		if c.Status.Terminal() {
			return fault.Transition("conflict", c.Status, store.ConflictEscalated)
		}
		c.EscalatedTo = escalatedTo
		return nil
	})
}

// transition applies mutate and the new status under the lock, then emits
// and persists. mutate rejects the change by returning an error.
func (m *Manager) transition(ctx context.Context, id string, to store.ConflictStatus, evt events.Type, mutate func(*store.Conflict) error) (*store.Conflict, error) {
	m.mu.Lock()
	c, ok := m.conflicts[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrConflictNotFound
	}
	from := c.Status
	if err := mutate(c); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	c.Status = to
	snapshot := cloneConflict(c)
	m.mu.Unlock()

	m.logger.Info("conflict transition", "conflict_id", id, "from", from, "to", to)
	m.publish(evt, snapshot)

	return snapshot, m.persist(ctx, snapshot, false)
}

func (m *Manager) persist(ctx context.Context, c *store.Conflict, create bool) error {
	ctx, cancel := store.Bounded(ctx, m.timeout)
	defer cancel()

	var err error
	if create {
		err = m.store.SaveConflict(ctx, c)
	} else {
		err = m.store.UpdateConflict(ctx, c)
	}
	if err != nil {
		m.logger.Error("failed to persist conflict", "conflict_id", c.ID, "status", c.Status, "error", err)
		return fault.Persistence("store conflict", err)
	}
	return nil
}

// Sweep runs the detector over agentIDs and records what it finds. It
// returns nil when nothing was detected.
func (m *Manager) Sweep(ctx context.Context, agentIDs []string) (*store.Conflict, error) {
	d, found := m.detector.Detect(agentIDs)
	if !found {
		m.logger.Debug("conflict sweep found nothing", "agents", len(agentIDs))
		return nil, nil
	}
	return m.CreateConflict(ctx, Report{
		Type:        d.Type,
		Description: d.Description,
		Severity:    d.Severity,
		Agents:      d.Agents,
	})
}

// GetConflict returns one conflict.
func (m *Manager) GetConflict(id string) (*store.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrConflictNotFound
	}
	return cloneConflict(c), nil
}

// GetAllConflicts returns every conflict in creation order.
func (m *Manager) GetAllConflicts() []*store.Conflict {
	return m.filter(func(*store.Conflict) bool { return true })
}

// GetConflictsByStatus returns conflicts currently in status.
func (m *Manager) GetConflictsByStatus(status store.ConflictStatus) []*store.Conflict {
	return m.filter(func(c *store.Conflict) bool { return c.Status == status })
}

// GetConflictsByAgent returns conflicts involving agentID.
func (m *Manager) GetConflictsByAgent(agentID string) []*store.Conflict {
	return m.filter(func(c *store.Conflict) bool {
		for _, a := range c.Agents {
			if a == agentID {
				return true
			}
		}
		return false
	})
}

func (m *Manager) filter(keep func(*store.Conflict) bool) []*store.Conflict {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*store.Conflict, 0)
	for _, id := range m.order {
		if c := m.conflicts[id]; keep(c) {
			out = append(out, cloneConflict(c))
		}
	}
	return out
}

func cloneConflict(c *store.Conflict) *store.Conflict {
	out := *c
	out.Agents = append([]string(nil), c.Agents...)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		out.ResolvedAt = &at
	}
	return &out
}
