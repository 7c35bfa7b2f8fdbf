// ABOUTME: Coordination facade composing registry, scheduler, router, quality gates and conflicts
// ABOUTME: Owns startup order, cadence reactions, stream authentication and shutdown

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-hub/internal/agent"
	"github.com/2389/coven-hub/internal/auth"
	"github.com/2389/coven-hub/internal/config"
	"github.com/2389/coven-hub/internal/conflict"
	"github.com/2389/coven-hub/internal/dedupe"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/messaging"
	"github.com/2389/coven-hub/internal/quality"
	"github.com/2389/coven-hub/internal/scheduler"
	"github.com/2389/coven-hub/internal/store"
)

// CoordinatorID is the sender of messages the hub originates itself.
const CoordinatorID = "coordinator"

// Hub errors
var (
	ErrNotStarted = fmt.Errorf("%w: hub not started", fault.ErrInvalidTransition)
	ErrHubClosed  = fmt.Errorf("hub %w", fault.ErrClosed)
)

// Option configures a Hub.
type Option func(*options)

type options struct {
	roster       []agent.Definition
	secretLookup func(string) string
	detector     conflict.Detector
	scorer       quality.Scorer
}

// WithRoster replaces agent.DefaultRoster.
func WithRoster(roster []agent.Definition) Option {
	return func(o *options) { o.roster = roster }
}

// WithSecretLookup replaces os.Getenv for per-agent secret overrides.
func WithSecretLookup(lookup func(string) string) Option {
	return func(o *options) { o.secretLookup = lookup }
}

// WithDetector replaces the random conflict detector.
func WithDetector(d conflict.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithScorer replaces the random quality scorer.
func WithScorer(s quality.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// Hub composes the coordination components around one event bus. The
// components never reach each other except through the hub.
type Hub struct {
	cfg    *config.Config
	store  store.Store
	bus    *events.Bus
	issuer *auth.JWTIssuer
	logger *slog.Logger
	roster []agent.Definition

	agents      *agent.Registry
	scheduler   *scheduler.Scheduler
	router      *messaging.Router
	quality     *quality.Manager
	conflicts   *conflict.Manager
	idempotency *dedupe.Cache

	mu            sync.Mutex
	started       bool
	closed        bool
	subscriptions []string
	runCtx        context.Context
	cancel        context.CancelFunc
}

// New builds every component from cfg. Nothing touches the store until Start.
func New(cfg *config.Config, s store.Store, logger *slog.Logger, opts ...Option) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{roster: agent.DefaultRoster}
	for _, opt := range opts {
		opt(&o)
	}

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("loading scheduler timezone: %w", err)
	}

	timeout := cfg.Persistence.Timeout
	bus := events.NewBus(logger)

	registryOpts := []agent.Option{
		agent.WithHashCost(cfg.Auth.BcryptCost),
		agent.WithLoginLimit(cfg.Auth.LoginRate, cfg.Auth.LoginBurst),
		agent.WithPersistTimeout(timeout),
	}
	if o.secretLookup != nil {
		registryOpts = append(registryOpts, agent.WithSecretLookup(o.secretLookup))
	}

	schedulerOpts := []scheduler.Option{
		scheduler.WithLocation(loc),
		scheduler.WithPersistTimeout(timeout),
	}
	for name, spec := range cfg.Scheduler.Specs() {
		schedulerOpts = append(schedulerOpts, scheduler.WithSpec(name, spec))
	}
	sched, err := scheduler.NewScheduler(s, bus, logger, schedulerOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	idempotency := dedupe.New(cfg.Messaging.IdempotencyTTL, 100_000)

	detector := o.detector
	if detector == nil {
		detector = conflict.NewRandomDetector(cfg.Conflicts.DetectionProbability, nil)
	}
	qualityOpts := []quality.Option{
		quality.WithRunInterval(cfg.Quality.RunInterval),
		quality.WithPersistTimeout(timeout),
	}
	if o.scorer != nil {
		qualityOpts = append(qualityOpts, quality.WithScorer(o.scorer))
	}

	return &Hub{
		cfg:       cfg,
		store:     s,
		bus:       bus,
		issuer:    issuer,
		logger:    logger.With("component", "hub"),
		roster:    o.roster,
		agents:    agent.NewRegistry(issuer, s, bus, logger, registryOpts...),
		scheduler: sched,
		router: messaging.NewRouter(s, bus, logger,
			messaging.WithDeliveryInterval(cfg.Messaging.DeliveryInterval),
			messaging.WithPersistTimeout(timeout),
			messaging.WithIdempotency(idempotency),
		),
		quality:     quality.NewManager(s, bus, logger, qualityOpts...),
		conflicts:   conflict.NewManager(s, bus, logger, conflict.WithDetector(detector), conflict.WithPersistTimeout(timeout)),
		idempotency: idempotency,
	}, nil
}

// Start brings components up in dependency order: store, registry,
// scheduler, router, quality gates, conflicts. A store initialization
// failure is returned and leaves the hub unstarted.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if h.started {
		return nil
	}

	initCtx, cancel := store.Bounded(ctx, h.cfg.Persistence.Timeout)
	err := h.store.Initialize(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	if err := h.agents.Seed(h.roster); err != nil {
		return fmt.Errorf("seeding agents: %w", err)
	}

	h.runCtx, h.cancel = context.WithCancel(context.WithoutCancel(ctx))
	h.subscribeReactions()
	if err := h.scheduler.Start(); err != nil {
		h.cancel()
		return fmt.Errorf("starting scheduler: %w", err)
	}

	h.router.Start(h.runCtx)

	if err := h.quality.Seed(); err != nil {
		h.router.Close()
		_ = h.scheduler.Stop(ctx)
		h.cancel()
		return fmt.Errorf("seeding quality gates: %w", err)
	}

	h.started = true
	h.logger.Info("coordination hub started",
		"agents", len(h.roster),
		"gates", len(h.quality.GetAllQualityGates()),
		"delivery_interval", h.cfg.Messaging.DeliveryInterval)
	return nil
}

// Ready reports whether Start completed and Close has not been called.
func (h *Hub) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started && !h.closed
}

// Close cancels every cadence and the delivery sweep, rejects further
// sends and closes event streams. The store is left open for its owner.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := h.subscriptions
	h.subscriptions = nil
	cancel := h.cancel
	h.mu.Unlock()

	h.logger.Info("shutting down coordination hub")

	var errs []error
	if err := h.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	h.router.Close()
	if cancel != nil {
		cancel()
	}
	for _, id := range subs {
		h.bus.Off(id)
	}
	h.idempotency.Close()
	h.bus.Close()

	return errors.Join(errs...)
}

// Events exposes the bus for transports and observers.
func (h *Hub) Events() *events.Bus {
	return h.bus
}

func (h *Hub) requireStarted() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if !h.started {
		return ErrNotStarted
	}
	return nil
}

// Verify checks a bearer token. It lets the hub serve as an auth.TokenVerifier.
func (h *Hub) Verify(token string) (*auth.Claims, error) {
	return h.issuer.Verify(token)
}

// AuthenticateStream authorizes a real-time channel for agentID.
func (h *Hub) AuthenticateStream(agentID, token string) error {
	if !h.agents.Exists(agentID) {
		return agent.ErrAgentNotFound
	}
	return h.agents.VerifyToken(agentID, token)
}
