package scheduler

import (
	"taskforge/internal/domain"
	"taskforge/internal/state"
)

// PauseTask moves a queued or running task to paused. A running
// executor is not interrupted; pause is cooperative and the task's
// eventual completion write proceeds normally.
func (s *Scheduler) PauseTask(id string) (domain.Task, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusQueued && t.Status != domain.StatusRunning {
		return domain.Task{}, domain.InvalidTransition(id, t.Status, domain.StatusPaused)
	}
	snap, err := s.store.UpdateTaskStatus(id, domain.StatusPaused, nil)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == domain.StatusQueued {
		s.stats.ClearWait(id)
	}
	return snap, nil
}

// ResumeTask returns a paused task to the queue at its original
// priority position.
func (s *Scheduler) ResumeTask(id string) (domain.Task, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusPaused {
		return domain.Task{}, domain.InvalidTransition(id, t.Status, domain.StatusQueued)
	}
	snap, err := s.store.Requeue(id)
	if err != nil {
		return domain.Task{}, err
	}
	s.stats.TrackQueued(id)
	s.ScheduleNext()
	return snap, nil
}

// CancelTask cancels a non-terminal task. A queued task is cancelled
// immediately; a running task gets its context cancelled and the
// executor is expected to observe it cooperatively. Cancellation is
// sticky: a late completion or failure write is dropped.
func (s *Scheduler) CancelTask(id string) (domain.Task, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return domain.Task{}, domain.InvalidTransition(id, t.Status, domain.StatusCancelled)
	}

	s.mu.Lock()
	if cancel, ok := s.inflight[id]; ok && cancel != nil {
		cancel()
	}
	if tm, ok := s.timers[id]; ok {
		tm.Stop()
		delete(s.timers, id)
	}
	delete(s.lastErrType, id)
	s.mu.Unlock()

	snap, err := s.store.UpdateTaskStatus(id, domain.StatusCancelled, nil)
	if err != nil {
		return domain.Task{}, err
	}
	s.stats.ClearWait(id)
	s.log.Info().Str("task_id", id).Msg("task cancelled")
	return snap, nil
}

// RetryTask re-queues a failed or cancelled task with a fresh retry
// budget.
func (s *Scheduler) RetryTask(id string) (domain.Task, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusFailed && t.Status != domain.StatusCancelled {
		return domain.Task{}, domain.InvalidTransition(id, t.Status, domain.StatusQueued)
	}
	snap, err := s.store.RetryFresh(id)
	if err != nil {
		return domain.Task{}, err
	}
	s.stats.TrackQueued(id)
	s.ScheduleNext()
	return snap, nil
}

// DeleteTask removes a task entirely, attempting cancellation first if
// it is running.
func (s *Scheduler) DeleteTask(id string) error {
	t, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if t.Status == domain.StatusRunning {
		if _, err := s.CancelTask(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if tm, ok := s.timers[id]; ok {
		tm.Stop()
		delete(s.timers, id)
	}
	delete(s.lastErrType, id)
	s.mu.Unlock()

	s.stats.ClearWait(id)
	return s.store.Delete(id)
}

// UpdateTaskProgress sets the caller-reported progress of a
// non-terminal task, clamped to 0-100.
func (s *Scheduler) UpdateTaskProgress(id string, progress int) (domain.Task, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status.Terminal() {
		return domain.Task{}, domain.InvalidTransition(id, t.Status, t.Status)
	}
	return s.store.UpdateTask(id, state.Patch{Progress: &progress})
}

// CancelAll cancels every queued, running, and paused task, tolerating
// individual failures. Returns the number cancelled.
func (s *Scheduler) CancelAll() int {
	n := 0
	for _, status := range []domain.Status{domain.StatusQueued, domain.StatusRunning, domain.StatusPaused} {
		for _, t := range s.store.ByStatus(status) {
			if _, err := s.CancelTask(t.ID); err != nil {
				s.log.Warn().Err(err).Str("task_id", t.ID).Msg("batch cancel skipped task")
				continue
			}
			n++
		}
	}
	return n
}

// PauseAllRunning pauses every running task. Returns the number paused.
func (s *Scheduler) PauseAllRunning() int {
	n := 0
	for _, t := range s.store.ByStatus(domain.StatusRunning) {
		if _, err := s.PauseTask(t.ID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("batch pause skipped task")
			continue
		}
		n++
	}
	return n
}

// ResumeAllPaused re-queues every paused task. Returns the number
// resumed.
func (s *Scheduler) ResumeAllPaused() int {
	n := 0
	for _, t := range s.store.ByStatus(domain.StatusPaused) {
		if _, err := s.ResumeTask(t.ID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("batch resume skipped task")
			continue
		}
		n++
	}
	return n
}
