// ABOUTME: JWT issuing and verification for agent sessions
// ABOUTME: HS256 tokens embed the agent id (sub) and role with a fixed lifetime

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/coven-hub/internal/fault"
)

// DefaultTokenTTL is the lifetime of an agent session token.
const DefaultTokenTTL = 24 * time.Hour

// Token errors
var (
	ErrInvalidToken = fault.ErrInvalidToken
	ErrExpiredToken = fmt.Errorf("%w: token expired", fault.ErrInvalidToken)
	ErrMissingClaim = fmt.Errorf("%w: missing required claim", fault.ErrInvalidToken)
)

// Claims is the payload of an agent token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AgentID returns the subject claim.
func (c *Claims) AgentID() string {
	return c.Subject
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTIssuer signs and verifies HS256 agent tokens
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer creates an issuer. The secret must be at least 16 bytes.
// A non-positive ttl selects DefaultTokenTTL.
func NewJWTIssuer(secret []byte, ttl time.Duration) (*JWTIssuer, error) {
	if len(secret) < 16 {
		return nil, fault.Validation("jwt secret must be at least 16 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (j *JWTIssuer) TTL() time.Duration {
	return j.ttl
}

// Issue creates a signed token for the agent and returns it with its expiry.
func (j *JWTIssuer) Issue(agentID, role string) (string, time.Time, error) {
	return j.issue(agentID, role, j.ttl)
}

func (j *JWTIssuer) issue(agentID, role string, ttl time.Duration) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates signature and expiry and returns the embedded claims.
func (j *JWTIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return claims, nil
}
