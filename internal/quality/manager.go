// ABOUTME: Quality gate manager: evaluates gates on demand or on a cadence
// ABOUTME: Each run scores every criterion, folds the verdict, persists and emits

package quality

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/store"
)

// DefaultRunInterval is how far nextRun is pushed after each run.
const DefaultRunInterval = 2 * time.Hour

// ErrGateNotFound is returned for unknown gate ids.
var ErrGateNotFound = fmt.Errorf("quality gate %w", fault.ErrNotFound)

// RunResult is the payload of QualityGateCompleted.
type RunResult struct {
	Gate     *store.QualityGate `json:"gate"`
	Duration time.Duration      `json:"duration"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithScorer replaces the random scorer.
func WithScorer(s Scorer) Option {
	return func(m *Manager) { m.scorer = s }
}

// WithRunInterval sets the nextRun offset.
func WithRunInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithPersistTimeout bounds every store call made by the manager.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// Manager owns the quality gates.
type Manager struct {
	mu    sync.RWMutex
	gates map[string]*store.QualityGate
	order []string

	scorer   Scorer
	interval time.Duration
	store    store.Store
	bus      events.Publisher
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewManager creates a manager with no gates. Call Seed to install the
// default gates.
func NewManager(s store.Store, bus events.Publisher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		gates:    make(map[string]*store.QualityGate),
		scorer:   NewRandomScorer(nil),
		interval: DefaultRunInterval,
		store:    s,
		bus:      bus,
		logger:   logger.With("component", "quality_gates"),
		timeout:  5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed registers the default gates with nextRun one interval away.
func (m *Manager) Seed() error {
	for _, g := range DefaultGates() {
		if err := m.RegisterGate(g); err != nil {
			return err
		}
	}
	m.logger.Info("quality gates seeded", "gates", len(m.order))
	return nil
}

// RegisterGate validates and adds a gate. Criterion statuses are taken as
// given; the gate status starts pending.
func (m *Manager) RegisterGate(g *store.QualityGate) error {
	if g == nil || g.ID == "" {
		return fault.Validation("gate id is required")
	}
	if !g.Type.Valid() {
		return fault.Validation("gate %s: unknown type %q", g.ID, g.Type)
	}
	if len(g.Criteria) == 0 {
		return fault.Validation("gate %s: at least one criterion is required", g.ID)
	}
	for _, c := range g.Criteria {
		if c.Name == "" {
			return fault.Validation("gate %s: criterion name is required", g.ID)
		}
		if c.Threshold < 0 {
			return fault.Validation("gate %s: criterion %s has negative threshold", g.ID, c.Name)
		}
	}

	gate := g.Clone()
	gate.Status = store.GatePending
	for i := range gate.Criteria {
		if gate.Criteria[i].Status == "" {
			gate.Criteria[i].Status = store.CriterionPass
		}
	}
	if gate.NextRun.IsZero() {
		gate.NextRun = m.now().UTC().Add(m.interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.gates[gate.ID]; exists {
		return fault.Validation("gate %s already registered", gate.ID)
	}
	m.gates[gate.ID] = gate
	m.order = append(m.order, gate.ID)
	return nil
}

// RunQualityGate scores every criterion, folds the verdict and advances
// lastRun/nextRun. Scoring runs on a copy without the manager lock held.
// The in-memory result stands even if persisting fails.
func (m *Manager) RunQualityGate(ctx context.Context, id string) (*store.QualityGate, error) {
	m.mu.RLock()
	gate, ok := m.gates[id]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrGateNotFound
	}
	view := gate.Clone()
	m.mu.RUnlock()

	started := m.now()
	scores := make([]float64, len(view.Criteria))
	for i, c := range view.Criteria {
		scores[i] = m.scorer.Score(view, c)
	}

	m.mu.Lock()
	statuses := make([]store.CriterionStatus, len(gate.Criteria))
	for i := range gate.Criteria {
		c := &gate.Criteria[i]
		c.Current = scores[i]
		c.Status = Classify(c.Current, c.Threshold)
		statuses[i] = c.Status
	}
	gate.Status = Fold(statuses)
	gate.LastRun = started.UTC()
	gate.NextRun = gate.LastRun.Add(m.interval)
	snapshot := gate.Clone()
	m.mu.Unlock()

	duration := m.now().Sub(started)
	m.logger.Info("quality gate evaluated", "gate_id", id, "status", snapshot.Status, "duration", duration)
	if m.bus != nil {
		m.bus.Publish(events.New(events.QualityGateCompleted, snapshot.AgentID, RunResult{Gate: snapshot, Duration: duration}))
	}

	ctx, cancel := store.Bounded(ctx, m.timeout)
	defer cancel()
	if err := m.store.SaveQualityGate(ctx, snapshot); err != nil {
		m.logger.Error("failed to persist quality gate", "gate_id", id, "error", err)
		return snapshot, fault.Persistence("store quality gate", err)
	}
	return snapshot, nil
}

// RunAll evaluates every gate in registration order. It keeps going past
// failures and returns the first error seen.
func (m *Manager) RunAll(ctx context.Context) ([]*store.QualityGate, error) {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	results := make([]*store.QualityGate, 0, len(ids))
	var firstErr error
	for _, id := range ids {
		g, err := m.RunQualityGate(ctx, id)
		if g != nil {
			results = append(results, g)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

// GetQualityGate returns one gate.
func (m *Manager) GetQualityGate(id string) (*store.QualityGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gates[id]
	if !ok {
		return nil, ErrGateNotFound
	}
	return g.Clone(), nil
}

// GetAllQualityGates returns every gate in registration order.
func (m *Manager) GetAllQualityGates() []*store.QualityGate {
	return m.filter(func(*store.QualityGate) bool { return true })
}

// GetQualityGatesByAgent returns the gates owned by agentID.
func (m *Manager) GetQualityGatesByAgent(agentID string) []*store.QualityGate {
	return m.filter(func(g *store.QualityGate) bool { return g.AgentID == agentID })
}

func (m *Manager) filter(keep func(*store.QualityGate) bool) []*store.QualityGate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*store.QualityGate, 0)
	for _, id := range m.order {
		if g := m.gates[id]; keep(g) {
			out = append(out, g.Clone())
		}
	}
	return out
}
