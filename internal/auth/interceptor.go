// ABOUTME: gRPC interceptors authenticating requests with agent bearer tokens
// ABOUTME: Extracts the token from metadata and populates context for handlers

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// HealthServicePrefix is the method prefix of the standard gRPC health
// service, which stays reachable without a token.
const HealthServicePrefix = "/grpc.health.v1.Health/"

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(ctx context.Context, logger *slog.Logger, method, reason string) {
	if logger == nil {
		return
	}
	attrs := []any{"reason", reason, "method", method}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

// UnaryInterceptor returns a gRPC unary interceptor that requires a valid
// agent token on every method not under one of the public prefixes.
func UnaryInterceptor(tokens TokenVerifier, logger *slog.Logger, public ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublic(info.FullMethod, public) {
			return handler(ctx, req)
		}
		authCtx, err := extractAuth(ctx, tokens, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(WithAuth(ctx, authCtx), req)
	}
}

// StreamInterceptor is the streaming counterpart of UnaryInterceptor.
func StreamInterceptor(tokens TokenVerifier, logger *slog.Logger, public ...string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublic(info.FullMethod, public) {
			return handler(srv, ss)
		}
		authCtx, err := extractAuth(ss.Context(), tokens, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: WithAuth(ss.Context(), authCtx)})
	}
}

func isPublic(method string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

func extractAuth(ctx context.Context, tokens TokenVerifier, logger *slog.Logger, method string) (*AuthContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(ctx, logger, method, "missing_metadata")
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		logAuthFailure(ctx, logger, method, "missing_header")
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, errMsg := extractBearerToken(values[0])
	if errMsg != "" {
		logAuthFailure(ctx, logger, method, "bad_header")
		return nil, status.Error(codes.Unauthenticated, errMsg)
	}

	claims, err := tokens.Verify(token)
	if err != nil {
		logAuthFailure(ctx, logger, method, "invalid_token")
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return &AuthContext{AgentID: claims.AgentID(), Role: claims.Role}, nil
}
