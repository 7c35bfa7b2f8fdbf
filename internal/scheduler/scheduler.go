// ABOUTME: Task scheduler: cron-driven cadence events plus ad-hoc task records
// ABOUTME: Cadences only emit events; subscribers attach the actual work

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/2389/coven-hub/internal/events"
	"github.com/2389/coven-hub/internal/fault"
	"github.com/2389/coven-hub/internal/store"
)

// Scheduler errors
var (
	ErrTaskNotFound    = fmt.Errorf("task %w", fault.ErrNotFound)
	ErrUnknownCadence  = fmt.Errorf("cadence %w", fault.ErrNotFound)
	ErrAlreadyStarted  = fmt.Errorf("%w: scheduler already started", fault.ErrInvalidTransition)
	ErrSchedulerClosed = fmt.Errorf("scheduler %w", fault.ErrClosed)
)

// TaskSpec is the caller-supplied part of a new task.
type TaskSpec struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	AgentID        string         `json:"agentId"`
	Priority       store.Priority `json:"priority"`
	EstimatedHours float64        `json:"estimatedHours"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	DueDate        *time.Time     `json:"dueDate,omitempty"`
}

// StatusChange is the payload of TaskStatusChanged.
type StatusChange struct {
	Task *store.Task      `json:"task"`
	From store.TaskStatus `json:"from"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone cadences are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// WithSpec overrides the cron expression of a named cadence.
func WithSpec(name, spec string) Option {
	return func(s *Scheduler) {
		for i := range s.cadences {
			if s.cadences[i].Name == name {
				s.cadences[i].Spec = spec
			}
		}
	}
}

// WithPersistTimeout bounds every store call made by the scheduler.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// Scheduler owns the cadence timers and the task map.
type Scheduler struct {
	mu    sync.RWMutex
	tasks map[string]*store.Task
	order []string

	cadences []Cadence
	location *time.Location
	cron     *cron.Cron
	entries  map[string]cron.EntryID
	started  bool
	closed   bool

	store   store.Store
	bus     events.Publisher
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewScheduler validates every cadence expression and returns a stopped scheduler.
func NewScheduler(s store.Store, bus events.Publisher, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sch := &Scheduler{
		tasks:    make(map[string]*store.Task),
		cadences: append([]Cadence(nil), DefaultCadences...),
		location: time.Local,
		entries:  make(map[string]cron.EntryID),
		store:    s,
		bus:      bus,
		logger:   logger.With("component", "task_scheduler"),
		timeout:  5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(sch)
	}

	cl := cronLogger{logger: sch.logger}
	sch.cron = cron.New(
		cron.WithLocation(sch.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, c := range sch.cadences {
		c := c
		id, err := sch.cron.AddFunc(c.Spec, func() { sch.fire(c, false) })
		if err != nil {
			return nil, fault.Validation("cadence %s: invalid spec %q: %v", c.Name, c.Spec, err)
		}
		sch.entries[c.Name] = id
	}
	return sch, nil
}

func (s *Scheduler) publish(t events.Type, agentID string, data any) {
	if s.bus != nil {
		s.bus.Publish(events.New(t, agentID, data))
	}
}

func (s *Scheduler) fire(c Cadence, manual bool) {
	s.logger.Info("cadence fired", "cadence", c.Name, "manual", manual)
	s.publish(c.Event, "", Trigger{Cadence: c.Name, Manual: manual})
}

// Start begins firing cadences. Each firing runs on its own goroutine, so
// a slow subscriber never delays another cadence.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.cron.Start()

	for _, c := range s.cadences {
		s.logger.Info("cadence scheduled", "cadence", c.Name, "spec", c.Spec, "next", s.cron.Entry(s.entries[c.Name]).Next)
	}
	return nil
}

// Stop cancels all cadences and waits for running firings to return or ctx
// to end. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for cadences to finish: %w", ctx.Err())
	}
}

// Trigger fires a cadence immediately, regardless of its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSchedulerClosed
	}
	for _, c := range s.cadences {
		if c.Name == name {
			s.fire(c, true)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownCadence, name)
}

// Cadences returns the configured cadences.
func (s *Scheduler) Cadences() []Cadence {
	return append([]Cadence(nil), s.cadences...)
}

// NextRuns returns when each cadence fires next. Empty before Start.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time, len(s.entries))
	if !s.started || s.closed {
		return out
	}
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// ScheduleTask creates a pending task and persists it.
func (s *Scheduler) ScheduleTask(ctx context.Context, spec TaskSpec) (*store.Task, error) {
	if spec.Name == "" {
		return nil, fault.Validation("task name is required")
	}
	if spec.AgentID == "" {
		return nil, fault.Validation("task agentId is required")
	}
	if spec.Priority == "" {
		spec.Priority = store.PriorityMedium
	}
	if !spec.Priority.Valid() {
		return nil, fault.Validation("unknown priority %q", spec.Priority)
	}
	if spec.EstimatedHours < 0 {
		return nil, fault.Validation("estimatedHours must not be negative")
	}

	now := s.now().UTC()
	task := &store.Task{
		ID:             uuid.New().String(),
		Name:           spec.Name,
		Description:    spec.Description,
		AgentID:        spec.AgentID,
		Status:         store.TaskPending,
		Priority:       spec.Priority,
		EstimatedHours: spec.EstimatedHours,
		Dependencies:   append([]string(nil), spec.Dependencies...),
		CreatedAt:      now,
		UpdatedAt:      now,
		DueDate:        spec.DueDate,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.publish(events.TaskScheduled, task.AgentID, snapshot)

	ctx, cancel := store.Bounded(ctx, s.timeout)
	defer cancel()
	if err := s.store.SaveTask(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist task", "task_id", task.ID, "error", err)
		return snapshot, fault.Persistence("store task", err)
	}
	return snapshot, nil
}

// UpdateTaskStatus sets a task's status and bumps UpdatedAt.
func (s *Scheduler) UpdateTaskStatus(ctx context.Context, taskID string, status store.TaskStatus) (*store.Task, error) {
	if !status.Valid() {
		return nil, fault.Validation("unknown task status %q", status)
	}

	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	from := task.Status
	task.Status = status
	now := s.now().UTC()
	if !now.After(task.UpdatedAt) {
		now = task.UpdatedAt.Add(time.Nanosecond)
	}
	task.UpdatedAt = now
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.publish(events.TaskStatusChanged, snapshot.AgentID, StatusChange{Task: snapshot, From: from})

	ctx, cancel := store.Bounded(ctx, s.timeout)
	defer cancel()
	if err := s.store.UpdateTask(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist task status", "task_id", taskID, "error", err)
		return snapshot, fault.Persistence("update task", err)
	}
	return snapshot, nil
}

// GetTask returns one task.
func (s *Scheduler) GetTask(taskID string) (*store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// GetAllTasks returns every task in creation order.
func (s *Scheduler) GetAllTasks() []*store.Task {
	return s.filter(func(*store.Task) bool { return true })
}

// GetTasksByAgent returns the tasks assigned to agentID.
func (s *Scheduler) GetTasksByAgent(agentID string) []*store.Task {
	return s.filter(func(t *store.Task) bool { return t.AgentID == agentID })
}

// GetTasksByStatus returns the tasks currently in status.
func (s *Scheduler) GetTasksByStatus(status store.TaskStatus) []*store.Task {
	return s.filter(func(t *store.Task) bool { return t.Status == status })
}

func (s *Scheduler) filter(keep func(*store.Task) bool) []*store.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Task, 0)
	for _, id := range s.order {
		if t := s.tasks[id]; keep(t) {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

func cloneTask(t *store.Task) *store.Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Blockers = append([]string(nil), t.Blockers...)
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return &c
}
