// ABOUTME: Server-Sent Events relay of coordination events to one agent
// ABOUTME: GET /api/events?agent_id=&token= authenticates through the hub

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/store"
)

// sseKeepalive is how often an idle stream receives a comment line.
const sseKeepalive = 15 * time.Second

// visibleTo reports whether an agent's stream may carry e. Messages reach
// only their sender and recipient and conflicts only the agents involved.
// Everything else is readable by any agent through the API already.
func visibleTo(e events.Event, agentID string) bool {
	switch d := e.Data.(type) {
	case *store.Message:
		return d.From == agentID || d.To == agentID
	case *store.Conflict:
		return slices.Contains(d.Agents, agentID)
	}
	if strings.HasPrefix(string(e.Type), "message.") {
		return e.AgentID == agentID
	}
	return true
}

// handleEvents handles GET /api/events. Browsers cannot set headers on an
// EventSource, so the token travels as a query parameter. A bearer header
// is accepted as well.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if agentID == "" || token == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "agent_id and token are required")
		return
	}
	if err := g.hub.AuthenticateStream(agentID, token); err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "stream authentication failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	stream := g.hub.Events().Stream(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "connected", map[string]string{"agent_id": agentID})
	flusher.Flush()
	g.logger.Info("event stream opened", "agent_id", agentID)

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("event stream closed", "agent_id", agentID)
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-stream:
			if !ok {
				g.writeSSEEvent(w, "shutdown", map[string]string{"reason": "hub closed"})
				flusher.Flush()
				return
			}
			if !visibleTo(e, agentID) {
				continue
			}
			g.writeSSEEvent(w, string(e.Type), e)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	if e, ok := data.(events.Event); ok {
		_, _ = fmt.Fprintf(w, "id: %s\n", e.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
