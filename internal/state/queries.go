package state

import (
	"time"

	"taskforge/internal/domain"
)

// Get returns a snapshot of the task with the given id.
func (m *Manager) Get(id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t.Clone(), nil
}

// ByStatus returns snapshots of all tasks in the given status.
// Queued tasks come back in dispatch order.
func (m *Manager) ByStatus(s domain.Status) []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s == domain.StatusQueued {
		out := make([]domain.Task, 0, len(m.queued))
		for _, t := range m.queued {
			out = append(out, t.Clone())
		}
		return out
	}

	var ids map[string]struct{}
	switch s {
	case domain.StatusRunning:
		ids = m.running
	case domain.StatusPaused:
		ids = m.paused
	case domain.StatusCompleted:
		ids = m.completed
	case domain.StatusFailed:
		ids = m.failed
	case domain.StatusCancelled:
		// Cancelled tasks live only in the master map.
		var out []domain.Task
		for _, t := range m.tasks {
			if t.Status == domain.StatusCancelled {
				out = append(out, t.Clone())
			}
		}
		return out
	default:
		return nil
	}

	out := make([]domain.Task, 0, len(ids))
	for id := range ids {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ByType returns snapshots of all tasks with the given task type.
func (m *Manager) ByType(taskType string) []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.Type == taskType {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ByUser returns snapshots of all tasks owned by the given user.
func (m *Manager) ByUser(userID string) []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// All returns snapshots of every retained task.
func (m *Manager) All() []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Counts returns the number of tasks per status.
func (m *Manager) Counts() map[domain.Status]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[domain.Status]int{
		domain.StatusQueued:    len(m.queued),
		domain.StatusRunning:   len(m.running),
		domain.StatusPaused:    len(m.paused),
		domain.StatusCompleted: len(m.completed),
		domain.StatusFailed:    len(m.failed),
		domain.StatusCancelled: m.cancelledCount,
	}
}

// CountsByType returns the number of retained tasks per task type.
func (m *Manager) CountsByType() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, t := range m.tasks {
		out[t.Type]++
	}
	return out
}

// CountsByPriority returns the number of retained tasks per priority.
func (m *Manager) CountsByPriority() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, t := range m.tasks {
		out[t.Priority.String()]++
	}
	return out
}

// PruneFinished drops completed and failed tasks older than retention
// from their status-indexed sets. The master map retains them; only
// the derived indices shrink. Returns the number of entries pruned.
func (m *Manager) PruneFinished(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ids := range []map[string]struct{}{m.completed, m.failed} {
		for id := range ids {
			t, ok := m.tasks[id]
			if !ok {
				delete(ids, id)
				continue
			}
			if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
				delete(ids, id)
				n++
			}
		}
	}
	if n > 0 {
		m.log.Info().Int("pruned", n).Msg("pruned finished task indices")
	}
	return n
}
