// Package hub is the coordination facade.
//
// A Hub owns one event bus and the five coordination components: the agent
// registry, the message router, the task scheduler, the quality gate
// manager and the conflict manager. Components publish onto the bus and
// never call each other; the hub subscribes to scheduler cadence events and
// turns them into work:
//
//   - daily standup: a notification to every agent
//   - weekly review: a high priority task message to every agent
//   - quality check: every gate is run
//   - conflict sweep: one detection pass over the roster
//   - progress check: agent snapshots are logged and stale agents reported
//
// Start brings the components up in dependency order and Close tears them
// down. Transports (HTTP, SSE, the NATS relay) talk only to the Hub.
package hub
