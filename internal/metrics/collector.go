package metrics

import (
	"sync"
	"time"

	"taskforge/internal/domain"
)

// defaultWindowSize bounds the rolling window of processing times.
const defaultWindowSize = 1000

// StoreView is the read-only slice of the state manager the collector
// needs for status counts. The collector never mutates tasks.
type StoreView interface {
	Counts() map[domain.Status]int
	CountsByType() map[string]int
	CountsByPriority() map[string]int
}

// Stats is a point-in-time snapshot of queue and processing health.
type Stats struct {
	QueuedCount    int `json:"queued_count"`
	RunningCount   int `json:"running_count"`
	PausedCount    int `json:"paused_count"`
	CompletedCount int `json:"completed_count"`
	FailedCount    int `json:"failed_count"`
	CancelledCount int `json:"cancelled_count"`

	AverageWaitTime       time.Duration `json:"average_wait_time"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`

	TasksByType     map[string]int `json:"tasks_by_type"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
}

// Collector observes task lifecycle timing. Wait time is measured per
// queue entry, not per task: a requeued task starts a fresh wait clock.
type Collector struct {
	mu    sync.Mutex
	store StoreView

	waitStart map[string]time.Time
	execStart map[string]time.Time

	// window holds processing durations of the most recently completed
	// tasks, oldest evicted first.
	window     []time.Duration
	windowSize int
}

func NewCollector(store StoreView) *Collector {
	return &Collector{
		store:      store,
		waitStart:  make(map[string]time.Time),
		execStart:  make(map[string]time.Time),
		windowSize: defaultWindowSize,
	}
}

// TrackQueued records the moment a task entered the queued state,
// first time or on requeue.
func (c *Collector) TrackQueued(taskID string) {
	c.mu.Lock()
	c.waitStart[taskID] = time.Now()
	c.mu.Unlock()
}

// ClearWait drops a live wait entry, used when a queued task is paused
// or cancelled without ever starting.
func (c *Collector) ClearWait(taskID string) {
	c.mu.Lock()
	delete(c.waitStart, taskID)
	c.mu.Unlock()
}

// TrackExecutionStart clears the wait-time entry and starts the
// processing clock.
func (c *Collector) TrackExecutionStart(taskID string) {
	c.mu.Lock()
	delete(c.waitStart, taskID)
	c.execStart[taskID] = time.Now()
	c.mu.Unlock()
}

// TrackExecutionEnd stops the processing clock and, when the attempt
// completed, appends the elapsed time to the rolling window.
func (c *Collector) TrackExecutionEnd(taskID string, final domain.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, ok := c.execStart[taskID]
	delete(c.execStart, taskID)
	delete(c.waitStart, taskID)
	if !ok || final != domain.StatusCompleted {
		return
	}

	c.window = append(c.window, time.Since(start))
	if len(c.window) > c.windowSize {
		c.window = c.window[1:]
	}
}

// Stats returns current queue statistics. Wait time averages only over
// currently queued tasks with a live wait entry; processing time
// averages over the rolling window of completed tasks.
func (c *Collector) Stats() Stats {
	counts := c.store.Counts()

	c.mu.Lock()
	var waitSum time.Duration
	now := time.Now()
	for _, start := range c.waitStart {
		waitSum += now.Sub(start)
	}
	waitN := len(c.waitStart)

	var procSum time.Duration
	for _, d := range c.window {
		procSum += d
	}
	procN := len(c.window)
	c.mu.Unlock()

	s := Stats{
		QueuedCount:     counts[domain.StatusQueued],
		RunningCount:    counts[domain.StatusRunning],
		PausedCount:     counts[domain.StatusPaused],
		CompletedCount:  counts[domain.StatusCompleted],
		FailedCount:     counts[domain.StatusFailed],
		CancelledCount:  counts[domain.StatusCancelled],
		TasksByType:     c.store.CountsByType(),
		TasksByPriority: c.store.CountsByPriority(),
	}
	if waitN > 0 {
		s.AverageWaitTime = waitSum / time.Duration(waitN)
	}
	if procN > 0 {
		s.AverageProcessingTime = procSum / time.Duration(procN)
	}
	return s
}
