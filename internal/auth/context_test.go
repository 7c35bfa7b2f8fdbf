package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	ctx = WithAuth(ctx, &AuthContext{AgentID: "agent4", Role: "QA Engineer"})
	got := FromContext(ctx)
	if assert.NotNil(t, got) {
		assert.Equal(t, "agent4", got.AgentID)
	}
}
