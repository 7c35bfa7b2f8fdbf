// ABOUTME: Gateway orchestrator that serves the coordination hub over HTTP and gRPC
// ABOUTME: Manages the store, hub, metrics, event relay and health endpoint lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/coven-hub/internal/auth"
	"github.com/2389/coven-hub/internal/config"
	"github.com/2389/coven-hub/internal/hub"
	"github.com/2389/coven-hub/internal/metrics"
	"github.com/2389/coven-hub/internal/relay"
	"github.com/2389/coven-hub/internal/store"
)

// Gateway serves one Hub. It owns the store the hub persists to.
type Gateway struct {
	config     *config.Config
	hub        *hub.Hub
	store      store.Store
	metrics    *metrics.Collector
	relay      *relay.Relay
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite store at the configured path.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by SQLite. The hub is not started until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...hub.Option) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	h, err := hub.New(cfg, s, logger, opts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating hub: %w", err)
	}

	gw, err := newGateway(cfg, h, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires transports around an existing hub.
func newGateway(cfg *config.Config, h *hub.Hub, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config: cfg,
		hub:    h,
		store:  s,
		logger: logger.With("component", "gateway"),
	}

	if cfg.Metrics.Enabled {
		gw.metrics = metrics.NewCollector(func() float64 {
			total := 0
			for _, n := range h.PendingMessages() {
				total += n
			}
			return float64(total)
		})
		gw.metrics.Attach(h.Events())
	}

	if cfg.Events.NATSURL != "" {
		r, err := relay.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			gw.detach()
			return nil, err
		}
		r.Attach(h.Events())
		gw.relay = r
	}

	gw.grpcServer, gw.health = createGRPCServer(h, gw.logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux. API routes other than login and the event
// stream require a bearer token.
func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.metrics != nil {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	mux.HandleFunc("POST /api/auth/login", g.handleLogin)
	mux.HandleFunc("GET /api/events", g.handleEvents)

	authed := auth.HTTPAuthMiddleware(g.hub)
	self := func(h http.HandlerFunc) http.Handler { return authed(auth.RequireSelf(h)) }
	protect := func(h http.HandlerFunc) http.Handler { return authed(h) }

	mux.Handle("GET /api/agents", protect(g.handleListAgents))
	mux.Handle("GET /api/agents/{id}", protect(g.handleGetAgent))
	mux.Handle("POST /api/agents/{id}/progress", self(g.handleUpdateProgress))
	mux.Handle("GET /api/agents/{id}/progress", protect(g.handleProgressLog))
	mux.Handle("PUT /api/agents/{id}/status", self(g.handleUpdateStatus))
	mux.Handle("GET /api/agents/{id}/messages", self(g.handleAgentMessages))

	mux.Handle("POST /api/messages", protect(g.handleSendMessage))
	mux.Handle("GET /api/messages/recent", protect(g.handleRecentMessages))
	mux.Handle("POST /api/messages/{id}/read", protect(g.handleMarkRead))

	mux.Handle("GET /api/tasks", protect(g.handleListTasks))
	mux.Handle("POST /api/tasks", protect(g.handleScheduleTask))
	mux.Handle("PUT /api/tasks/{id}/status", protect(g.handleUpdateTaskStatus))

	mux.Handle("GET /api/conflicts", protect(g.handleListConflicts))
	mux.Handle("POST /api/conflicts", protect(g.handleCreateConflict))
	mux.Handle("GET /api/conflicts/{id}", protect(g.handleGetConflict))
	mux.Handle("POST /api/conflicts/{id}/acknowledge", protect(g.handleAcknowledgeConflict))
	mux.Handle("POST /api/conflicts/{id}/resolve", protect(g.handleResolveConflict))
	mux.Handle("POST /api/conflicts/{id}/escalate", protect(g.handleEscalateConflict))

	mux.Handle("GET /api/quality-gates", protect(g.handleListGates))
	mux.Handle("GET /api/quality-gates/{id}", protect(g.handleGetGate))
	mux.Handle("POST /api/quality-gates/{id}/run", protect(g.handleRunGate))

	return mux
}

// Handler exposes the HTTP routes, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupListeners opens the HTTP listener and, when configured, the gRPC one.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// Run starts the hub and servers and blocks until ctx is canceled or a
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.hub.Start(ctx); err != nil {
		_ = g.gracefulShutdown()
		return err
	}
	g.markServing()

	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	if grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// detach stops observers that were attached to the hub's bus.
func (g *Gateway) detach() {
	if g.metrics != nil {
		g.metrics.Detach()
	}
}

// Shutdown stops servers, the hub and observers, then closes the store.
// Later calls return the first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() { g.shutdownErr = g.shutdown(ctx) })
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.markNotServing()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "hub close", g.hub.Close(ctx))
	g.detach()
	if g.relay != nil {
		errs = appendCloseError(errs, "relay close", g.relay.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the hub has started.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.hub.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("hub not started"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(g.hub.GetAllAgents()))
}
