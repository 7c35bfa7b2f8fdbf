// Package agent tracks the fixed roster of cooperating agents.
//
// # Overview
//
// The roster is seeded once at startup from DefaultRoster. Agents are never
// added or removed afterwards; only their status, progress and last-update
// time change.
//
// # Registry
//
//	reg := agent.NewRegistry(issuer, store, bus, logger)
//	if err := reg.Seed(agent.DefaultRoster); err != nil { ... }
//
// Key operations:
//
//   - Authenticate(ctx, id, secret): Check a secret, issue a session token, mark active
//   - VerifyToken(id, token): Check a token belongs to the agent
//   - UpdateProgress(ctx, id, payload): Apply a raw progress report and log it
//   - UpdateStatus(id, status, progress): Set status directly
//   - GetAgent(id), ListAgents(), Stale(maxAge): Snapshots
//
// # Credentials
//
// Each roster entry names an environment variable (AGENT1_SECRET and so on)
// whose value overrides the built-in default secret. Secrets are bcrypt
// hashed at seed time and never kept in plaintext. Authentication attempts
// are rate limited per agent.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Returned Agent values are copies.
package agent
