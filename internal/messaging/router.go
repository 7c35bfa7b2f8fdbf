// ABOUTME: Per-recipient FIFO message queues with a periodic delivery sweep
// ABOUTME: Each sweep hands over at most one message per recipient

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-hub/internal/dedupe"
	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/store"
)

// DefaultDeliveryInterval is the delivery sweep cadence.
const DefaultDeliveryInterval = 5 * time.Second

// Router errors
var (
	ErrMessageNotFound = fmt.Errorf("message %w", fault.ErrNotFound)
	ErrNotDelivered    = fmt.Errorf("%w: message has not been delivered", fault.ErrValidation)
	ErrRouterClosed    = fmt.Errorf("router %w", fault.ErrClosed)
)

// SendRequest describes a message to enqueue.
type SendRequest struct {
	From     string
	To       string
	Content  string
	Priority store.Priority
	Type     store.MessageType
	Metadata map[string]string

	// IdempotencyKey, when set, makes a repeated send with the same sender,
	// recipient and key within the cache TTL return the original message id
	// without enqueueing again.
	IdempotencyKey string
}

// SendResult is returned by SendMessage.
type SendResult struct {
	MessageID string `json:"messageId"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ReadChange is the payload of MessageRead.
type ReadChange struct {
	MessageID string `json:"messageId"`
	Read      bool   `json:"read"`
}

// Option configures a Router.
type Option func(*Router)

// WithDeliveryInterval sets the sweep cadence used by Start.
func WithDeliveryInterval(d time.Duration) Option {
	return func(r *Router) { r.interval = d }
}

// WithPersistTimeout bounds every store call made by the router.
func WithPersistTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// WithIdempotency enables idempotency keys backed by cache.
func WithIdempotency(cache *dedupe.Cache) Option {
	return func(r *Router) { r.idempotency = cache }
}

// queued is a message waiting for delivery. settled turns true once the
// initial store write has returned, so a delivery update never races the
// insert it modifies.
type queued struct {
	msg     *store.Message
	settled bool
}

// Router owns the recipient queues and the delivered-message index.
type Router struct {
	mu        sync.Mutex
	queues    map[string][]*queued
	delivered map[string]*store.Message
	closed    bool

	store       store.Store
	bus         events.Publisher
	logger      *slog.Logger
	idempotency *dedupe.Cache

	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	loopMu  sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewRouter creates a router. Call Start to run the delivery sweep.
func NewRouter(s store.Store, bus events.Publisher, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		queues:    make(map[string][]*queued),
		delivered: make(map[string]*store.Message),
		store:     s,
		bus:       bus,
		logger:    logger.With("component", "message_router"),
		interval:  DefaultDeliveryInterval,
		timeout:   5 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) publish(t events.Type, agentID string, data any) {
	if r.bus != nil {
		r.bus.Publish(events.New(t, agentID, data))
	}
}

// SendMessage enqueues a message for req.To and persists it. If the store
// write fails the message stays queued and the persistence error is returned
// along with the id.
func (r *Router) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.To == "" {
		return SendResult{}, fault.Validation("recipient is required")
	}
	if req.From == "" {
		return SendResult{}, fault.Validation("sender is required")
	}
	if req.Content == "" {
		return SendResult{}, fault.Validation("content is required")
	}
	if req.Priority == "" {
		req.Priority = store.PriorityMedium
	}
	if !req.Priority.Valid() {
		return SendResult{}, fault.Validation("unknown priority %q", req.Priority)
	}
	if req.Type == "" {
		req.Type = store.MessageTypeText
	}
	if !req.Type.Valid() {
		return SendResult{}, fault.Validation("unknown message type %q", req.Type)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return SendResult{}, fmt.Errorf("generating message id: %w", err)
	}
	msg := &store.Message{
		ID:        id.String(),
		From:      req.From,
		To:        req.To,
		Content:   req.Content,
		Priority:  req.Priority,
		Type:      req.Type,
		Timestamp: r.now().UTC(),
		Read:      false,
		Metadata:  copyMetadata(req.Metadata),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return SendResult{}, ErrRouterClosed
	}
	if req.IdempotencyKey != "" && r.idempotency != nil {
		if original, dup := r.idempotency.Claim(idempotencyScope(req), msg.ID); dup {
			r.mu.Unlock()
			r.logger.Debug("duplicate send suppressed", "idempotency_key", req.IdempotencyKey, "message_id", original)
			return SendResult{MessageID: original, Duplicate: true}, nil
		}
	}
	entry := &queued{msg: msg}
	r.queues[msg.To] = append(r.queues[msg.To], entry)
	snapshot := cloneMessage(msg)
	r.mu.Unlock()

	r.publish(events.MessageSent, msg.To, snapshot)

	ctx, cancel := store.Bounded(ctx, r.timeout)
	defer cancel()
	err = r.store.SaveMessage(ctx, snapshot)

	r.mu.Lock()
	entry.settled = true
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("failed to persist message", "message_id", msg.ID, "to", msg.To, "error", err)
		return SendResult{MessageID: msg.ID}, fault.Persistence("store message", err)
	}

	r.logger.Debug("message queued", "message_id", msg.ID, "from", msg.From, "to", msg.To, "priority", msg.Priority)
	return SendResult{MessageID: msg.ID}, nil
}

// idempotencyScope confines a client key to one sender and recipient pair so
// agents reusing the same key never collide.
func idempotencyScope(req SendRequest) string {
	return req.From + "\x00" + req.To + "\x00" + req.IdempotencyKey
}

// Sweep delivers the head of every non-empty queue, in recipient order, and
// returns how many messages were delivered. A head whose store write is
// still in flight waits for the next sweep.
func (r *Router) Sweep(ctx context.Context) int {
	r.mu.Lock()
	recipients := make([]string, 0, len(r.queues))
	for to, q := range r.queues {
		if len(q) > 0 && q[0].settled {
			recipients = append(recipients, to)
		}
	}
	sort.Strings(recipients)

	batch := make([]*store.Message, 0, len(recipients))
	for _, to := range recipients {
		q := r.queues[to]
		msg := q[0].msg
		q[0] = nil
		if len(q) == 1 {
			delete(r.queues, to)
		} else {
			r.queues[to] = q[1:]
		}
		msg.Read = true
		r.delivered[msg.ID] = msg
		batch = append(batch, cloneMessage(msg))
	}
	r.mu.Unlock()

	for _, msg := range batch {
		r.publish(events.MessageDelivered, msg.To, msg)

		pctx, cancel := store.Bounded(ctx, r.timeout)
		if err := r.store.UpdateMessage(pctx, msg); err != nil {
			r.logger.Error("failed to persist delivery", "message_id", msg.ID, "to", msg.To, "error", err)
		}
		cancel()
	}

	if len(batch) > 0 {
		r.logger.Debug("delivery sweep", "delivered", len(batch))
	}
	return len(batch)
}

// Start runs the delivery sweep every interval until Close or ctx ends.
func (r *Router) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})

	go func(stop <-chan struct{}, stopped chan<- struct{}) {
		defer close(stopped)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(r.stop, r.stopped)

	r.logger.Info("delivery sweep started", "interval", r.interval)
}

// Close stops the sweep and rejects further sends. Queued messages stay
// queued; they are already persisted with read=false.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.stop == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.stopped
}

// GetMessagesForAgent reads the persisted messages to or from agentID, newest
// first. Store failures are logged and yield an empty list.
func (r *Router) GetMessagesForAgent(ctx context.Context, agentID string) []*store.Message {
	ctx, cancel := store.Bounded(ctx, r.timeout)
	defer cancel()

	msgs, err := r.store.GetMessagesForAgent(ctx, agentID)
	if err != nil {
		r.logger.Error("failed to read messages", "agent_id", agentID, "error", err)
		return []*store.Message{}
	}
	return msgs
}

// GetRecentMessages reads the newest persisted messages. Store failures are
// logged and yield an empty list.
func (r *Router) GetRecentMessages(ctx context.Context, limit int) []*store.Message {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := store.Bounded(ctx, r.timeout)
	defer cancel()

	msgs, err := r.store.GetRecentMessages(ctx, limit)
	if err != nil {
		r.logger.Error("failed to read recent messages", "limit", limit, "error", err)
		return []*store.Message{}
	}
	return msgs
}

// MarkMessageAsRead marks a delivered message read. Unknown ids are ignored.
func (r *Router) MarkMessageAsRead(ctx context.Context, messageID string) error {
	err := r.SetReadState(ctx, messageID, true)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	return err
}

// SetReadState updates the read flag of a delivered message, persists it and
// emits MessageRead. Queued messages are not eligible.
func (r *Router) SetReadState(ctx context.Context, messageID string, read bool) error {
	r.mu.Lock()
	msg, ok := r.delivered[messageID]
	if !ok {
		queued := r.isQueuedLocked(messageID)
		r.mu.Unlock()
		if queued {
			return ErrNotDelivered
		}
		return ErrMessageNotFound
	}
	msg.Read = read
	snapshot := cloneMessage(msg)
	r.mu.Unlock()

	r.publish(events.MessageRead, snapshot.To, ReadChange{MessageID: messageID, Read: read})

	ctx, cancel := store.Bounded(ctx, r.timeout)
	defer cancel()
	if err := r.store.UpdateMessage(ctx, snapshot); err != nil {
		r.logger.Error("failed to persist read state", "message_id", messageID, "error", err)
		return fault.Persistence("update message", err)
	}
	return nil
}

func (r *Router) isQueuedLocked(messageID string) bool {
	for _, q := range r.queues {
		for _, e := range q {
			if e.msg.ID == messageID {
				return true
			}
		}
	}
	return false
}

// Delivered returns the in-memory copy of a delivered message.
func (r *Router) Delivered(messageID string) (*store.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.delivered[messageID]
	if !ok {
		return nil, false
	}
	return cloneMessage(msg), true
}

// QueueDepth returns how many messages wait for agentID.
func (r *Router) QueueDepth(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[agentID])
}

// Pending returns the queue depth of every recipient with waiting messages.
func (r *Router) Pending() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.queues))
	for to, q := range r.queues {
		if len(q) > 0 {
			out[to] = len(q)
		}
	}
	return out
}

func cloneMessage(m *store.Message) *store.Message {
	c := *m
	c.Metadata = copyMetadata(m.Metadata)
	return &c
}

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
