// ABOUTME: gRPC server exposing the standard health service
// ABOUTME: Other services require an agent token; health reports SERVING once the hub starts

package gateway

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-hub/internal/auth"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "coven.hub.Coordination"

func createGRPCServer(tokens auth.TokenVerifier, logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(tokens, logger, auth.HealthServicePrefix)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(tokens, logger, auth.HealthServicePrefix)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

func (g *Gateway) markServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
}

func (g *Gateway) markNotServing() {
	g.health.Shutdown()
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}
