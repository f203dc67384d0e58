package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskforge/internal/domain"
	"taskforge/internal/executor"
	"taskforge/internal/metrics"
	"taskforge/internal/recovery"
	"taskforge/internal/state"
)

// Config sets the scheduler's admission parameters.
type Config struct {
	// MaxConcurrent is the worker-pool ceiling. Defaults to 4.
	MaxConcurrent int

	// AvailableMemoryMB is the admission budget checked against a
	// task's declared memory hint. Zero means unlimited.
	AvailableMemoryMB int

	// DefaultMaxRetries applies to tasks created without an explicit
	// cap. Defaults to 3.
	DefaultMaxRetries int
}

// Scheduler drives admission and dispatch: it pulls the highest
// priority eligible task from the state manager, runs it on a
// concurrency-limited pool, and routes failures through the recovery
// engine. Safe to invoke from multiple goroutines.
type Scheduler struct {
	mu            sync.Mutex
	maxConcurrent int
	memoryMB      int
	defaultCap    int
	stopped       bool

	// inflight maps running task ids to their cancel functions. A nil
	// entry reserves the slot before the worker installs its context.
	inflight map[string]context.CancelFunc

	// timers holds pending retry re-queues.
	timers map[string]*time.Timer

	// lastErrType remembers the classification of a task's previous
	// failed attempt so a later success can close a half-open circuit.
	lastErrType map[string]recovery.ErrorType

	store *state.Manager
	execs *executor.Registry
	recov *recovery.Engine
	stats *metrics.Collector

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	log zerolog.Logger
}

func New(store *state.Manager, execs *executor.Registry, recov *recovery.Engine, stats *metrics.Collector, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		maxConcurrent: cfg.MaxConcurrent,
		memoryMB:      cfg.AvailableMemoryMB,
		defaultCap:    cfg.DefaultMaxRetries,
		inflight:      make(map[string]context.CancelFunc),
		timers:        make(map[string]*time.Timer),
		lastErrType:   make(map[string]recovery.ErrorType),
		store:         store,
		execs:         execs,
		recov:         recov,
		stats:         stats,
		baseCtx:       ctx,
		cancel:        cancel,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Store exposes the state manager's query and event surface.
func (s *Scheduler) Store() *state.Manager { return s.store }

// Stats returns current queue statistics.
func (s *Scheduler) Stats() metrics.Stats { return s.stats.Stats() }

// RegisterExecutor binds an execution function to a task type.
func (s *Scheduler) RegisterExecutor(taskType string, fn executor.Func) {
	s.execs.Register(taskType, fn)
}

// CreateTask builds a queued task from the request, applying defaults,
// and triggers a dispatch attempt.
func (s *Scheduler) CreateTask(req domain.CreateTaskRequest, userID string) (domain.Task, error) {
	if req.Type == "" {
		return domain.Task{}, fmt.Errorf("task type is required")
	}

	now := time.Now()
	t := domain.Task{
		ID:           "tsk_" + uuid.NewString(),
		UserID:       userID,
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		Priority:     domain.PriorityMedium,
		Status:       domain.StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		MaxRetries:   s.defaultCap,
		RetryConfig:  req.RetryConfig,
		Resources:    req.Resources,
		Input:        req.Input,
		Metadata:     req.Metadata,
		ParentTaskID: req.ParentTaskID,
		AgentID:      req.AgentID,
		WorkflowID:   req.WorkflowID,
	}
	if t.Name == "" {
		t.Name = req.Type
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		t.MaxRetries = *req.MaxRetries
	}

	if err := s.store.AddTask(t); err != nil {
		return domain.Task{}, err
	}
	s.stats.TrackQueued(t.ID)

	s.log.Info().Str("task_id", t.ID).Str("type", t.Type).
		Str("priority", t.Priority.String()).Str("user_id", userID).
		Msg("task created")

	s.ScheduleNext()
	return t, nil
}

// ConfigureConcurrency updates the worker-pool ceiling live. Lowering
// it never preempts running tasks; the pool drains to the new ceiling.
func (s *Scheduler) ConfigureConcurrency(max int) {
	if max < 1 {
		max = 1
	}
	s.mu.Lock()
	s.maxConcurrent = max
	s.mu.Unlock()
	s.log.Info().Int("max_concurrent", max).Msg("concurrency reconfigured")
	s.ScheduleNext()
}

// ScheduleNext runs the dispatch loop: fill free worker slots with
// eligible queued tasks. An admission-failed head is requeued once and
// the loop stops rather than scanning past it.
func (s *Scheduler) ScheduleNext() {
	for s.dispatchOne() {
	}
}

func (s *Scheduler) dispatchOne() bool {
	s.mu.Lock()
	if s.stopped || len(s.inflight) >= s.maxConcurrent {
		s.mu.Unlock()
		return false
	}
	t, ok := s.store.DequeueNext()
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, busy := s.inflight[t.ID]; busy {
		// Head was claimed by a concurrent dispatch but has not yet
		// transitioned to running.
		s.mu.Unlock()
		return false
	}
	if !s.eligibleLocked(t) {
		s.mu.Unlock()
		if _, err := s.store.Requeue(t.ID); err == nil {
			s.log.Debug().Str("task_id", t.ID).
				Int("memory_mb", t.Resources.MemoryMB).
				Msg("task requeued: memory budget exceeded")
		}
		return false
	}

	s.inflight[t.ID] = nil // reserve the slot
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runOne(t.ID)
	return true
}

// eligibleLocked checks resource admission. Memory is the only
// enforced budget; the other hints are informational.
func (s *Scheduler) eligibleLocked(t domain.Task) bool {
	if t.Resources == nil || t.Resources.MemoryMB <= 0 || s.memoryMB <= 0 {
		return true
	}
	return t.Resources.MemoryMB <= s.memoryMB
}

// runOne executes a single attempt of a claimed task on a worker slot.
func (s *Scheduler) runOne(id string) {
	defer s.wg.Done()
	defer s.release(id)

	t, err := s.store.StartIfQueued(id)
	if err != nil {
		// Cancelled, paused, or deleted between claim and start; the
		// competing transition wins and the slot is released.
		return
	}
	s.stats.TrackExecutionStart(id)

	fn, ok := s.execs.Get(t.Type)
	if !ok {
		msg := fmt.Sprintf("%v: %s", domain.ErrNoExecutor, t.Type)
		snap, _ := s.store.UpdateTaskStatus(id, domain.StatusFailed, &state.Transition{Error: msg})
		s.stats.TrackExecutionEnd(id, snap.Status)
		s.log.Error().Str("task_id", id).Str("type", t.Type).Msg("no executor registered")
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()
	defer cancel()

	// New slots may have opened while this head blocked the queue.
	s.ScheduleNext()

	result, execErr := runExecutor(ctx, fn, t)
	if execErr == nil {
		snap, _ := s.store.UpdateTaskStatus(id, domain.StatusCompleted, &state.Transition{Result: result})
		s.stats.TrackExecutionEnd(id, snap.Status)

		s.mu.Lock()
		prev, had := s.lastErrType[id]
		delete(s.lastErrType, id)
		s.mu.Unlock()
		if had {
			s.recov.RecordSuccess(t, prev)
		}
		s.log.Info().Str("task_id", id).Str("type", t.Type).Msg("task completed")
		return
	}

	s.handleFailure(t, execErr)
}

// runExecutor invokes the registered function, converting a panic into
// an execution error so the dispatch loop never crashes on a bad
// executor.
func runExecutor(ctx context.Context, fn executor.Func, t domain.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return fn(ctx, t)
}

// handleFailure routes a failed attempt through the recovery engine
// and applies its decision.
func (s *Scheduler) handleFailure(t domain.Task, execErr error) {
	attempt := t.Retries + 1
	out := s.recov.HandleTaskError(t, execErr, attempt, t.RetryConfig)

	tr := &state.Transition{Error: out.ErrorMessage}
	if out.Status == domain.StatusCompleted {
		tr = &state.Transition{Result: out.FallbackResult}
	}
	snap, err := s.store.UpdateTaskStatus(t.ID, out.Status, tr)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", t.ID).Msg("failed to record attempt outcome")
		return
	}
	s.stats.TrackExecutionEnd(t.ID, snap.Status)

	s.mu.Lock()
	if out.ShouldRetry {
		s.lastErrType[t.ID] = out.ErrorType
	} else {
		delete(s.lastErrType, t.ID)
	}
	s.mu.Unlock()

	s.log.Warn().Str("task_id", t.ID).Str("type", t.Type).
		Str("strategy", string(out.Strategy)).
		Str("error_type", string(out.ErrorType)).
		Int("attempt", attempt).
		Err(execErr).
		Msg("task attempt failed")

	if out.ShouldRetry && snap.Status == domain.StatusFailed {
		s.scheduleRetry(t.ID, out.RetryDelay)
	}
}

// scheduleRetry arms a timer that re-queues the task after the backoff
// delay, unless it was cancelled in the meantime.
func (s *Scheduler) scheduleRetry(id string, delay time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		t, err := s.store.Get(id)
		if err != nil || t.Status != domain.StatusFailed {
			// Deleted or cancelled while the retry was pending.
			return
		}
		if _, err := s.store.Retry(id); err != nil {
			s.log.Debug().Err(err).Str("task_id", id).Msg("retry requeue skipped")
			return
		}
		s.stats.TrackQueued(id)
		s.ScheduleNext()
	})
	s.mu.Unlock()
	s.log.Info().Str("task_id", id).Dur("delay", delay).Msg("retry scheduled")
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
	s.ScheduleNext()
}

// Stop halts dispatch, cancels in-flight task contexts, drops pending
// retry timers, and waits for workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, tm := range s.timers {
		tm.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}
