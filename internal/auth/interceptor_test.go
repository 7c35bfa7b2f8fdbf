// ABOUTME: Tests for the gRPC bearer-token interceptors
// ABOUTME: Drives the interceptor funcs directly with incoming metadata

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptor(t *testing.T) {
	issuer := newTestIssuer(t)
	valid, _, err := issuer.Issue("agent3", "Frontend Developer")
	require.NoError(t, err)

	intercept := UnaryInterceptor(issuer, nil, HealthServicePrefix)

	var seen *AuthContext
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = FromContext(ctx)
		return "ok", nil
	}

	tests := []struct {
		name     string
		method   string
		md       metadata.MD
		wantCode codes.Code
		wantID   string
	}{
		{name: "no metadata", method: "/coven.Hub/Send", wantCode: codes.Unauthenticated},
		{name: "missing header", method: "/coven.Hub/Send", md: metadata.Pairs("x-other", "1"), wantCode: codes.Unauthenticated},
		{name: "wrong scheme", method: "/coven.Hub/Send", md: metadata.Pairs("authorization", "Basic abc"), wantCode: codes.Unauthenticated},
		{name: "invalid token", method: "/coven.Hub/Send", md: metadata.Pairs("authorization", "Bearer nope"), wantCode: codes.Unauthenticated},
		{name: "valid token", method: "/coven.Hub/Send", md: metadata.Pairs("authorization", "Bearer "+valid), wantCode: codes.OK, wantID: "agent3"},
		{name: "health is public", method: HealthServicePrefix + "Check", wantCode: codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}

			resp, err := intercept(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantCode != codes.OK {
				assert.Nil(t, resp)
				return
			}
			assert.Equal(t, "ok", resp)
			if tt.wantID != "" {
				require.NotNil(t, seen)
				assert.Equal(t, tt.wantID, seen.AgentID)
			}
		})
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	issuer := newTestIssuer(t)
	valid, _, err := issuer.Issue("agent1", "Project Architect")
	require.NoError(t, err)

	intercept := StreamInterceptor(issuer, nil)
	info := &grpc.StreamServerInfo{FullMethod: "/coven.Hub/Events"}

	var seen *AuthContext
	handler := func(_ any, ss grpc.ServerStream) error {
		seen = FromContext(ss.Context())
		return nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+valid))
	require.NoError(t, intercept(nil, &fakeStream{ctx: ctx}, info, handler))
	require.NotNil(t, seen)
	assert.Equal(t, "agent1", seen.AgentID)
	assert.Equal(t, "Project Architect", seen.Role)

	err = intercept(nil, &fakeStream{ctx: context.Background()}, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
