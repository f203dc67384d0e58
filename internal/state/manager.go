package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskforge/internal/domain"
)

// Transition carries the status-specific payload of a transition:
// the result for completed, the error message for failed.
type Transition struct {
	Result any
	Error  string
}

// Patch is a partial update of non-status task fields. Nil fields are
// left untouched. Metadata entries are merged key by key.
type Patch struct {
	Name        *string
	Description *string
	Priority    *domain.Priority
	Progress    *int
	Status      *domain.Status
	Result      any
	Error       *string
	Metadata    map[string]any
}

// Manager owns the task store. It is the only component that mutates
// task status, and it emits a lifecycle event for every mutation.
// All collection access is serialized by a single mutex; events are
// delivered after the lock is released so listeners can call back in.
type Manager struct {
	mu sync.Mutex

	tasks  map[string]*domain.Task
	queued []*domain.Task

	running   map[string]struct{}
	paused    map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}

	cancelledCount int

	emitter *Emitter
	log     zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		tasks:     make(map[string]*domain.Task),
		running:   make(map[string]struct{}),
		paused:    make(map[string]struct{}),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		emitter:   NewEmitter(log),
		log:       log.With().Str("component", "state").Logger(),
	}
}

// Events exposes the manager's emitter for On/Off subscription.
func (m *Manager) Events() *Emitter { return m.emitter }

type pending struct {
	ev   Event
	task domain.Task
}

func (m *Manager) emitAll(evs []pending) {
	for _, p := range evs {
		m.emitter.Emit(p.ev, p.task)
	}
}

// AddTask inserts a new task. The id must be unused. Queued tasks are
// placed into the priority list immediately.
func (m *Manager) AddTask(t domain.Task) error {
	m.mu.Lock()
	if _, exists := m.tasks[t.ID]; exists {
		m.mu.Unlock()
		return domain.ErrTaskExists
	}
	stored := t.Clone()
	m.tasks[t.ID] = &stored
	m.insertLocked(&stored)
	snap := stored.Clone()
	m.mu.Unlock()

	m.log.Debug().Str("task_id", t.ID).Str("type", t.Type).
		Str("priority", t.Priority.String()).Msg("task added")
	m.emitAll([]pending{{EventTaskCreated, snap}})
	return nil
}

// UpdateTaskStatus moves a task to a new status, adjusting the
// status-indexed collections and status-specific fields. A transition
// to the task's current status is a no-op. Completion, failure, and
// start writes to a cancelled task are dropped: cancellation is sticky.
func (m *Manager) UpdateTaskStatus(id string, to domain.Status, tr *Transition) (domain.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return domain.Task{}, domain.ErrNotFound
	}
	evs := m.transitionLocked(t, to, tr, "")
	snap := t.Clone()
	m.mu.Unlock()

	m.emitAll(evs)
	return snap, nil
}

// StartIfQueued atomically claims a queued task for execution,
// moving it to running. The check and the transition share the one
// mutex, so a cancel or pause landing after the caller peeked the
// queue wins and the claim fails with ErrInvalidTransition.
func (m *Manager) StartIfQueued(id string) (domain.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return domain.Task{}, domain.ErrNotFound
	}
	if t.Status != domain.StatusQueued {
		from := t.Status
		m.mu.Unlock()
		return domain.Task{}, domain.InvalidTransition(id, from, domain.StatusRunning)
	}
	evs := m.transitionLocked(t, domain.StatusRunning, nil, "")
	snap := t.Clone()
	m.mu.Unlock()

	m.emitAll(evs)
	return snap, nil
}

// Requeue forces a task back to queued, used when a dequeued task
// turns out to be resource-constrained or when it is resumed.
func (m *Manager) Requeue(id string) (domain.Task, error) {
	return m.requeueAs(id, EventTaskRequeued, false)
}

// Retry re-queues a failed or cancelled task for another attempt,
// incrementing its retry counter. The counter never exceeds
// MaxRetries; past the cap the task stays where it is.
func (m *Manager) Retry(id string) (domain.Task, error) {
	return m.requeueAs(id, EventTaskRetried, true)
}

// RetryFresh re-queues a terminal task with a fresh retry budget and a
// cleared error. Used for operator-initiated retries, as opposed to the
// automatic ones driven by the recovery engine.
func (m *Manager) RetryFresh(id string) (domain.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return domain.Task{}, domain.ErrNotFound
	}
	t.Retries = 0
	t.Error = ""
	evs := m.transitionLocked(t, domain.StatusQueued, nil, EventTaskRetried)
	snap := t.Clone()
	m.mu.Unlock()

	m.emitAll(evs)
	return snap, nil
}

func (m *Manager) requeueAs(id string, ev Event, countRetry bool) (domain.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return domain.Task{}, domain.ErrNotFound
	}
	if countRetry {
		if t.Retries+1 > t.MaxRetries {
			m.mu.Unlock()
			return domain.Task{}, domain.InvalidTransition(id, t.Status, domain.StatusQueued)
		}
		t.Retries++
	}
	evs := m.transitionLocked(t, domain.StatusQueued, nil, ev)
	snap := t.Clone()
	m.mu.Unlock()

	m.emitAll(evs)
	return snap, nil
}

// UpdateTask merges a partial update. A status change inside the patch
// is delegated to the transition logic.
func (m *Manager) UpdateTask(id string, p Patch) (domain.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return domain.Task{}, domain.ErrNotFound
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil && *p.Priority != t.Priority {
		t.Priority = *p.Priority
		if t.Status == domain.StatusQueued {
			m.sortQueuedLocked()
		}
	}
	if p.Progress != nil {
		t.Progress = clampProgress(*p.Progress)
	}
	if p.Result != nil {
		t.Result = p.Result
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if len(p.Metadata) > 0 {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			t.Metadata[k] = v
		}
	}
	t.UpdatedAt = time.Now()

	var evs []pending
	if p.Status != nil && *p.Status != t.Status {
		var tr *Transition
		if p.Result != nil || p.Error != nil {
			tr = &Transition{Result: p.Result}
			if p.Error != nil {
				tr.Error = *p.Error
			}
		}
		evs = m.transitionLocked(t, *p.Status, tr, "")
	}
	snap := t.Clone()
	m.mu.Unlock()

	m.emitAll(evs)
	return snap, nil
}

// DequeueNext returns the head of the priority queue without removing
// it. Removal happens when the caller transitions the task to running.
func (m *Manager) DequeueNext() (domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queued) == 0 {
		return domain.Task{}, false
	}
	return m.queued[0].Clone(), true
}

// Delete removes a task from the master map and every index.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	m.removeLocked(t)
	if t.Status == domain.StatusCancelled {
		m.cancelledCount--
	}
	delete(m.tasks, id)
	snap := t.Clone()
	m.mu.Unlock()

	m.log.Debug().Str("task_id", id).Msg("task deleted")
	m.emitAll([]pending{{EventTaskDeleted, snap}})
	return nil
}

// transitionLocked applies a status change. specific overrides the
// event derived from the target status (requeue vs retry).
func (m *Manager) transitionLocked(t *domain.Task, to domain.Status, tr *Transition, specific Event) []pending {
	if t.Status == to {
		return nil
	}
	if t.Status == domain.StatusCancelled &&
		(to == domain.StatusCompleted || to == domain.StatusFailed || to == domain.StatusRunning) {
		// Cancellation is sticky; a late completion, failure, or start
		// from an in-flight dispatch loses the race.
		m.log.Warn().Str("task_id", t.ID).Str("dropped_status", string(to)).
			Msg("status write to cancelled task dropped")
		return nil
	}

	from := t.Status
	m.removeLocked(t)
	if from == domain.StatusCancelled {
		m.cancelledCount--
	}

	now := time.Now()
	switch to {
	case domain.StatusQueued:
		t.Progress = 0
	case domain.StatusRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.StatusCompleted:
		t.Progress = 100
		if tr != nil {
			t.Result = tr.Result
		}
		m.stampCompletedLocked(t, now)
	case domain.StatusFailed:
		if tr != nil {
			t.Error = tr.Error
		}
		m.stampCompletedLocked(t, now)
	case domain.StatusCancelled:
		m.cancelledCount++
		m.stampCompletedLocked(t, now)
	}
	t.Status = to
	t.UpdatedAt = now
	m.insertLocked(t)

	if specific == "" {
		specific = eventFor(to)
	}
	m.log.Debug().Str("task_id", t.ID).
		Str("from", string(from)).Str("to", string(to)).
		Msg("status transition")

	snap := t.Clone()
	return []pending{{specific, snap}, {EventTaskStatusChanged, snap}}
}

func (m *Manager) stampCompletedLocked(t *domain.Task, now time.Time) {
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}
}

func eventFor(s domain.Status) Event {
	switch s {
	case domain.StatusQueued:
		return EventTaskRequeued
	case domain.StatusRunning:
		return EventTaskStarted
	case domain.StatusCompleted:
		return EventTaskCompleted
	case domain.StatusFailed:
		return EventTaskFailed
	case domain.StatusPaused:
		return EventTaskPaused
	case domain.StatusCancelled:
		return EventTaskCancelled
	}
	return EventTaskStatusChanged
}

// removeLocked takes a task out of whichever status collection holds
// it. Cancelled tasks are in none.
func (m *Manager) removeLocked(t *domain.Task) {
	switch t.Status {
	case domain.StatusQueued:
		for i, q := range m.queued {
			if q.ID == t.ID {
				m.queued = append(m.queued[:i], m.queued[i+1:]...)
				break
			}
		}
	case domain.StatusRunning:
		delete(m.running, t.ID)
	case domain.StatusPaused:
		delete(m.paused, t.ID)
	case domain.StatusCompleted:
		delete(m.completed, t.ID)
	case domain.StatusFailed:
		delete(m.failed, t.ID)
	}
}

func (m *Manager) insertLocked(t *domain.Task) {
	switch t.Status {
	case domain.StatusQueued:
		m.queued = append(m.queued, t)
		m.sortQueuedLocked()
	case domain.StatusRunning:
		m.running[t.ID] = struct{}{}
	case domain.StatusPaused:
		m.paused[t.ID] = struct{}{}
	case domain.StatusCompleted:
		m.completed[t.ID] = struct{}{}
	case domain.StatusFailed:
		m.failed[t.ID] = struct{}{}
	}
}

// sortQueuedLocked keeps the queue ordered priority descending, then
// creation time ascending. The stable sort preserves FIFO order within
// a priority band; a retried task keeps its original CreatedAt and so
// its original position among same-priority siblings.
func (m *Manager) sortQueuedLocked() {
	sort.SliceStable(m.queued, func(i, j int) bool {
		if m.queued[i].Priority != m.queued[j].Priority {
			return m.queued[i].Priority > m.queued[j].Priority
		}
		return m.queued[i].CreatedAt.Before(m.queued[j].CreatedAt)
	})
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
