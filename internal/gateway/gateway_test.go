// ABOUTME: Tests for the gateway lifecycle, health endpoints and gRPC health service
// ABOUTME: Uses a hub over MockStore and real listeners for Run

package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-hub/internal/config"
	"github.com/2389/coven-hub/internal/hub"
	"github.com/2389/coven-hub/internal/quality"
	"github.com/2389/coven-hub/internal/store"
)

type testEnv struct {
	gw     *Gateway
	hub    *hub.Hub
	store  *store.MockStore
	server *httptest.Server
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.LoginRate = 1000
	cfg.Auth.LoginBurst = 1000
	cfg.Messaging.DeliveryInterval = time.Hour
	cfg.Scheduler.Timezone = "UTC"
	return cfg
}

func hubOptions() []hub.Option {
	return []hub.Option{
		hub.WithSecretLookup(func(string) string { return "" }),
		hub.WithScorer(quality.ScorerFunc(func(*store.QualityGate, store.QualityCriteria) float64 { return 100 })),
	}
}

// newTestEnv builds a gateway over a MockStore. The hub is started unless
// start is false.
func newTestEnv(t *testing.T, start bool) *testEnv {
	t.Helper()
	cfg := testConfig()
	ms := store.NewMockStore()
	h, err := hub.New(cfg, ms, nil, hubOptions()...)
	require.NoError(t, err)

	gw, err := newGateway(cfg, h, ms, nil)
	require.NoError(t, err)

	if start {
		require.NoError(t, h.Start(context.Background()))
		gw.markServing()
	}

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return &testEnv{gw: gw, hub: h, store: ms, server: srv}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, env.hub.Start(context.Background()))

	resp, err = http.Get(env.server.URL + "/health/ready")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (5 agents)", string(body))
}

func TestHealthService(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	res, err := env.gw.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, res.Status)

	env.gw.markServing()
	res, err = env.gw.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.Status)

	env.gw.markNotServing()
	res, err = env.gw.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, res.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	token := login(t, env, "agent1")
	sendMessage(t, env, token, `{"to":"agent2","content":"hello"}`, "")

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `coven_hub_events_total{type="message.sent"} 1`)
	assert.Contains(t, string(body), "coven_hub_messages_queued 1")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	ms := store.NewMockStore()
	h, err := hub.New(cfg, ms, nil, hubOptions()...)
	require.NoError(t, err)
	gw, err := newGateway(cfg, h, ms, nil)
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.GRPCAddr = freeAddr(t)
	ms := store.NewMockStore()
	h, err := hub.New(cfg, ms, nil, hubOptions()...)
	require.NoError(t, err)
	gw, err := newGateway(cfg, h, ms, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
	defer checkCancel()
	res, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, h.Ready())
}

func TestRun_StoreInitFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = freeAddr(t)
	ms := store.NewMockStore()
	ms.FailOn(store.OpInitialize, assert.AnError)
	h, err := hub.New(cfg, ms, nil, hubOptions()...)
	require.NoError(t, err)
	gw, err := newGateway(cfg, h, ms, nil)
	require.NoError(t, err)

	err = gw.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestShutdownIdempotent(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	first := env.gw.Shutdown(ctx)
	assert.Equal(t, first, env.gw.Shutdown(ctx))
	assert.False(t, env.hub.Ready())
}

func TestNew_SQLite(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Path = t.TempDir() + "/hub.db"
	gw, err := New(cfg, nil, hubOptions()...)
	require.NoError(t, err)
	require.NoError(t, gw.hub.Start(context.Background()))
	assert.True(t, gw.hub.Ready())
	require.NoError(t, gw.Shutdown(context.Background()))
}
