// Package auth issues and verifies the agent tokens used by coven-hub.
//
// # Tokens
//
// Agents log in with their secret and receive an HS256 JWT whose subject is
// the agent id and whose role claim carries the agent's role:
//
//	issuer, err := NewJWTIssuer(secret, 24*time.Hour)
//	token, expiresAt, err := issuer.Issue("agent1", "Project Architect")
//	claims, err := issuer.Verify(token)
//
// # Transports
//
// HTTPAuthMiddleware guards the JSON API and RequireSelf restricts
// per-agent routes to the token's own agent. UnaryInterceptor and
// StreamInterceptor do the same for gRPC, leaving the health service public.
// Both attach an AuthContext retrievable with FromContext.
package auth
