// ABOUTME: Behavior attached to scheduler cadence events
// ABOUTME: Standups and reviews become messages; checks and sweeps call their components

package hub

import (
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/messaging"
	"github.com/2389/coven-hub/internal/store"
)

const (
	standupPrompt = "Daily standup: reply with what you finished yesterday, what you are working on today, and anything blocking you."
	reviewPrompt  = "Weekly review: submit a summary of this week's completed work, open risks, and goals for next week."
)

// subscribeReactions must be called with mu held, before the scheduler starts.
func (h *Hub) subscribeReactions() {
	h.subscriptions = append(h.subscriptions,
		h.bus.On(events.DailyStandupTriggered, func(events.Event) { h.broadcast(standupPrompt, store.MessageTypeNotification, store.PriorityMedium) }),
		h.bus.On(events.WeeklyReviewTriggered, func(events.Event) { h.broadcast(reviewPrompt, store.MessageTypeTask, store.PriorityHigh) }),
		h.bus.On(events.QualityCheckTriggered, func(events.Event) { h.runQualityCheck() }),
		h.bus.On(events.ConflictSweepTriggered, func(events.Event) { h.runConflictSweep() }),
		h.bus.On(events.ProgressCheckTriggered, func(events.Event) { h.runProgressCheck() }),
	)
}

func (h *Hub) broadcast(content string, typ store.MessageType, priority store.Priority) {
	sent := 0
	for _, id := range h.agents.IDs() {
		_, err := h.router.SendMessage(h.runCtx, messaging.SendRequest{
			From:     CoordinatorID,
			To:       id,
			Content:  content,
			Priority: priority,
			Type:     typ,
			Metadata: map[string]string{"origin": "schedule"},
		})
		if err != nil {
			h.logger.Error("failed to send scheduled message", "to", id, "type", typ, "error", err)
			continue
		}
		sent++
	}
	h.logger.Info("scheduled broadcast sent", "type", typ, "recipients", sent)
}

func (h *Hub) runQualityCheck() {
	gates, err := h.quality.RunAll(h.runCtx)
	if err != nil {
		h.logger.Error("quality check incomplete", "error", err)
	}
	counts := make(map[store.GateStatus]int)
	for _, g := range gates {
		counts[g.Status]++
	}
	h.logger.Info("quality check finished",
		"passing", counts[store.GatePassing],
		"warning", counts[store.GateWarning],
		"failing", counts[store.GateFailing])
}

func (h *Hub) runConflictSweep() {
	c, err := h.conflicts.Sweep(h.runCtx, h.agents.IDs())
	if err != nil {
		h.logger.Error("conflict sweep failed", "error", err)
		return
	}
	if c != nil {
		h.logger.Warn("conflict detected", "conflict_id", c.ID, "type", c.Type, "severity", c.Severity, "agents", c.Agents)
	}
}

func (h *Hub) runProgressCheck() {
	for _, a := range h.agents.ListAgents() {
		h.logger.Info("agent progress", "agent_id", a.ID, "status", a.Status, "progress", a.Progress, "last_update", a.LastUpdate)
	}
	for _, a := range h.agents.Stale(h.cfg.Scheduler.StaleAfter) {
		h.logger.Warn("agent has not reported recently", "agent_id", a.ID, "last_update", a.LastUpdate, "stale_after", h.cfg.Scheduler.StaleAfter)
	}
}
