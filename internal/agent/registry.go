// ABOUTME: Registry of seeded agents: identity, credentials, status and progress
// ABOUTME: Authenticates agents, issues session tokens and records progress reports

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/2389/coven-hub/internal/auth"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/store"
)

// Registry errors
var (
	ErrAgentNotFound      = fmt.Errorf("agent %w", fault.ErrNotFound)
	ErrInvalidCredentials = fault.ErrInvalidCredentials
	ErrTokenMismatch      = fmt.Errorf("%w: token issued for another agent", fault.ErrInvalidToken)
	ErrTooManyAttempts    = fmt.Errorf("%w: too many authentication attempts", fault.ErrRateLimited)
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusOffline   Status = "offline"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOffline, StatusActive, StatusBlocked, StatusCompleted:
		return true
	}
	return false
}

// Agent is a snapshot of one tracked agent. Identity fields never change
// after seeding; Status, Progress and LastUpdate do.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Status       Status    `json:"status"`
	CurrentTask  string    `json:"currentTask,omitempty"`
	Progress     int       `json:"progress"`
	LastUpdate   time.Time `json:"lastUpdate"`
	Capabilities []string  `json:"capabilities"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Blockers     []string  `json:"blockers,omitempty"`
}

func (a *Agent) clone() Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	c.Dependencies = append([]string(nil), a.Dependencies...)
	c.Blockers = append([]string(nil), a.Blockers...)
	return c
}

// touch advances LastUpdate, never letting it go backwards or stand still.
func (a *Agent) touch(now time.Time) {
	if !now.After(a.LastUpdate) {
		now = a.LastUpdate.Add(time.Nanosecond)
	}
	a.LastUpdate = now
}

// AuthResult is returned by a successful Authenticate.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Agent     Agent     `json:"agent"`
}

// StatusChange is the payload of AgentStatusChanged.
type StatusChange struct {
	From     Status `json:"from"`
	To       Status `json:"to"`
	Progress int    `json:"progress"`
}

// ProgressReport is the subset of a progress payload the registry acts on.
// The full raw payload is written to the progress log untouched.
type ProgressReport struct {
	Status   *Status `json:"status,omitempty"`
	Progress *struct {
		Overall *int `json:"overall,omitempty"`
	} `json:"progress,omitempty"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithHashCost sets the bcrypt cost used when seeding credentials.
func WithHashCost(cost int) Option {
	return func(r *Registry) { r.hashCost = cost }
}

// WithLoginLimit sets the per-agent authentication attempt rate and burst.
func WithLoginLimit(perSecond float64, burst int) Option {
	return func(r *Registry) {
		r.loginRate = rate.Limit(perSecond)
		r.loginBurst = burst
	}
}

// WithPersistTimeout bounds every store call made by the registry.
func WithPersistTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithSecretLookup replaces os.Getenv for reading per-agent secret overrides.
func WithSecretLookup(lookup func(string) string) Option {
	return func(r *Registry) { r.lookupEnv = lookup }
}

// Registry owns the agent roster. All entity access goes through mu.
type Registry struct {
	mu          sync.RWMutex
	agents      map[string]*Agent
	order       []string
	credentials map[string][]byte
	limiters    map[string]*rate.Limiter

	issuer *auth.JWTIssuer
	store  store.Store
	bus    events.Publisher
	logger *slog.Logger

	hashCost   int
	loginRate  rate.Limit
	loginBurst int
	timeout    time.Duration
	lookupEnv  func(string) string
	now        func() time.Time
}

// NewRegistry creates an empty registry. Call Seed before use.
func NewRegistry(issuer *auth.JWTIssuer, s store.Store, bus events.Publisher, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		agents:      make(map[string]*Agent),
		credentials: make(map[string][]byte),
		limiters:    make(map[string]*rate.Limiter),
		issuer:      issuer,
		store:       s,
		bus:         bus,
		logger:      logger.With("component", "agent_registry"),
		hashCost:    bcrypt.DefaultCost,
		loginRate:   rate.Limit(1),
		loginBurst:  5,
		timeout:     5 * time.Second,
		lookupEnv:   os.Getenv,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed populates the roster. Every agent starts offline with zero progress.
// Seeding an id twice is an error.
func (r *Registry) Seed(roster []Definition) error {
	hashes := make(map[string][]byte, len(roster))
	for _, def := range roster {
		secret := def.DefaultSecret
		if def.SecretEnv != "" {
			if v := r.lookupEnv(def.SecretEnv); v != "" {
				secret = v
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), r.hashCost)
		if err != nil {
			return fmt.Errorf("hashing secret for %s: %w", def.ID, err)
		}
		hashes[def.ID] = hash
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, def := range roster {
		if _, exists := r.agents[def.ID]; exists {
			return fault.Validation("agent %s seeded twice", def.ID)
		}
		r.agents[def.ID] = &Agent{
			ID:           def.ID,
			Name:         def.Name,
			Role:         def.Role,
			Status:       StatusOffline,
			LastUpdate:   now,
			Capabilities: append([]string(nil), def.Capabilities...),
			Dependencies: append([]string(nil), def.Dependencies...),
		}
		r.order = append(r.order, def.ID)
		r.credentials[def.ID] = hashes[def.ID]
		r.limiters[def.ID] = rate.NewLimiter(r.loginRate, r.loginBurst)
	}

	r.logger.Info("agent roster seeded", "agents", len(r.order))
	return nil
}

// Authenticate checks the secret, issues a session token and marks the agent active.
func (r *Registry) Authenticate(ctx context.Context, agentID, secret string) (*AuthResult, error) {
	r.mu.RLock()
	_, ok := r.agents[agentID]
	hash := r.credentials[agentID]
	limiter := r.limiters[agentID]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrAgentNotFound
	}
	if !limiter.Allow() {
		r.logger.Warn("authentication throttled", "agent_id", agentID)
		return nil, ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		r.logger.Warn("authentication failed", "agent_id", agentID)
		return nil, ErrInvalidCredentials
	}

	r.mu.Lock()
	a := r.agents[agentID]
	token, expiresAt, err := r.issuer.Issue(a.ID, a.Role)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	from := a.Status
	a.Status = StatusActive
	a.touch(r.now())
	snapshot := a.clone()
	r.mu.Unlock()

	r.logger.Info("agent authenticated", "agent_id", agentID, "previous_status", from)
	r.publishStatus(snapshot, from)

	return &AuthResult{Token: token, ExpiresAt: expiresAt, Agent: snapshot}, nil
}

// VerifyToken checks signature, expiry and that the token belongs to agentID.
func (r *Registry) VerifyToken(agentID, token string) error {
	claims, err := r.issuer.Verify(token)
	if err != nil {
		return err
	}
	if claims.AgentID() != agentID {
		return ErrTokenMismatch
	}
	return nil
}

// UpdateProgress applies status and overall progress from a raw report and
// appends the raw report to the progress log. The in-memory update stands
// even if the log write fails.
func (r *Registry) UpdateProgress(ctx context.Context, agentID string, payload json.RawMessage) (Agent, error) {
	var report ProgressReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return Agent{}, fault.Validation("progress payload: %v", err)
	}
	if report.Status != nil && !report.Status.Valid() {
		return Agent{}, fault.Validation("unknown status %q", *report.Status)
	}
	var overall *int
	if report.Progress != nil && report.Progress.Overall != nil {
		overall = report.Progress.Overall
		if *overall < 0 || *overall > 100 {
			return Agent{}, fault.Validation("progress %d out of range 0-100", *overall)
		}
	}

	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return Agent{}, ErrAgentNotFound
	}
	from := a.Status
	if overall != nil {
		a.Progress = *overall
	}
	if report.Status != nil {
		a.Status = *report.Status
	}
	now := r.now()
	a.touch(now)
	snapshot := a.clone()
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.New(events.AgentProgressUpdated, agentID, snapshot))
	}
	if snapshot.Status != from {
		r.publishStatus(snapshot, from)
	}

	ctx, cancel := store.Bounded(ctx, r.timeout)
	defer cancel()
	entry := &store.ProgressEntry{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
	}
	if err := r.store.SaveProgress(ctx, entry); err != nil {
		r.logger.Error("failed to persist progress", "agent_id", agentID, "error", err)
		return snapshot, fault.Persistence("store progress", err)
	}

	return snapshot, nil
}

// UpdateStatus sets status and, when given, progress directly.
func (r *Registry) UpdateStatus(agentID string, status Status, progress *int) (Agent, error) {
	if !status.Valid() {
		return Agent{}, fault.Validation("unknown status %q", status)
	}
	if progress != nil && (*progress < 0 || *progress > 100) {
		return Agent{}, fault.Validation("progress %d out of range 0-100", *progress)
	}

	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return Agent{}, ErrAgentNotFound
	}
	from := a.Status
	a.Status = status
	if progress != nil {
		a.Progress = *progress
	}
	a.touch(r.now())
	snapshot := a.clone()
	r.mu.Unlock()

	r.publishStatus(snapshot, from)
	return snapshot, nil
}

func (r *Registry) publishStatus(a Agent, from Status) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.New(events.AgentStatusChanged, a.ID, StatusChange{
		From:     from,
		To:       a.Status,
		Progress: a.Progress,
	}))
}

// GetAgent returns a snapshot of one agent.
func (r *Registry) GetAgent(agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return a.clone(), nil
}

// ListAgents returns snapshots of every agent in roster order.
func (r *Registry) ListAgents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.agents[id].clone())
	}
	return result
}

// IDs returns the roster's agent ids in seed order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Exists reports whether agentID is on the roster.
func (r *Registry) Exists(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// ProgressLog returns the agent's most recent raw progress reports.
func (r *Registry) ProgressLog(ctx context.Context, agentID string, limit int) ([]*store.ProgressEntry, error) {
	if !r.Exists(agentID) {
		return nil, ErrAgentNotFound
	}
	ctx, cancel := store.Bounded(ctx, r.timeout)
	defer cancel()

	entries, err := r.store.ListProgress(ctx, agentID, limit)
	if err != nil {
		return nil, fault.Persistence("list progress", err)
	}
	return entries, nil
}

// Stale returns agents whose last update is older than maxAge.
func (r *Registry) Stale(maxAge time.Duration) []Agent {
	cutoff := r.now().Add(-maxAge)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []Agent
	for _, id := range r.order {
		if a := r.agents[id]; a.LastUpdate.Before(cutoff) {
			stale = append(stale, a.clone())
		}
	}
	return stale
}
