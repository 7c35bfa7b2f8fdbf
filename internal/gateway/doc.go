// Package gateway serves the coordination hub to agents.
//
// # Transports
//
// The HTTP server carries a JSON API, a Server-Sent Events stream and the
// operational endpoints:
//
//	POST /api/auth/login                      agentId + secret -> token
//	GET  /api/agents                          roster snapshot
//	GET  /api/agents/{id}                     one agent
//	POST /api/agents/{id}/progress            raw progress report (self only)
//	GET  /api/agents/{id}/progress            progress log
//	PUT  /api/agents/{id}/status              status and progress (self only)
//	GET  /api/agents/{id}/messages            messages to or from the agent (self only)
//	POST /api/messages                        send; honors Idempotency-Key
//	GET  /api/messages/recent                 newest messages
//	POST /api/messages/{id}/read              mark delivered message read
//	GET|POST /api/tasks, PUT /api/tasks/{id}/status
//	GET|POST /api/conflicts, GET /api/conflicts/{id}
//	POST /api/conflicts/{id}/acknowledge|resolve|escalate
//	GET  /api/quality-gates[/{id}], POST /api/quality-gates/{id}/run
//	GET  /api/events?agent_id=&token=         SSE stream of events visible to the agent
//	GET  /health, /health/ready, /metrics
//
// Every /api route except login and the event stream requires an
// "Authorization: Bearer <token>" header carrying a token from login.
//
// When server.grpc_addr is set, a gRPC server exposes grpc.health.v1,
// reporting SERVING once the hub has started. Every other gRPC method
// requires the same bearer token in the authorization metadata.
//
// # Errors
//
// Error kinds map to status codes: not found 404, bad credentials or token
// 401, validation 400, invalid transition 409, rate limited 429, closed or
// not started 503, anything else 500. A command whose change was applied
// but could not be persisted answers 500 with the applied result attached.
package gateway
