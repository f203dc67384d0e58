package domain

import "time"

// Status is the lifecycle state of a task. A task is in exactly one
// status at any time.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders tasks within the queue. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	}
	return "unknown"
}

// ParsePriority maps a priority name to its value. Unknown names fall
// back to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	}
	return PriorityMedium
}

// RetryConfig controls backoff between retry attempts. Fallback and
// Notify are optional hooks invoked by the recovery engine.
type RetryConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Fallback      func(Task) (any, error)
	Notify        func(Task, error)
}

// Resources carries admission hints. Only MemoryMB is enforced; the
// rest are informational.
type Resources struct {
	MemoryMB      int
	CPUIntensive  bool
	TimeEstimate  time.Duration
	ModelProvider string
}

// Task is a unit of schedulable, retryable work.
type Task struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Type        string
	Priority    Priority
	Status      Status

	Progress int // 0-100

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Retries     int
	MaxRetries  int
	RetryConfig *RetryConfig

	Resources *Resources

	Input    any
	Result   any
	Error    string
	Metadata map[string]any

	ParentTaskID string
	AgentID      string
	WorkflowID   string
}

// Clone returns a snapshot copy safe to hand to event listeners. The
// metadata map is copied; Input/Result are shared as opaque values.
func (t Task) Clone() Task {
	c := t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// CreateTaskRequest is the collaborator-facing input for task creation.
// Zero-valued optional fields are defaulted by the scheduler.
type CreateTaskRequest struct {
	Name         string
	Type         string
	Description  string
	Priority     *Priority
	Resources    *Resources
	MaxRetries   *int
	RetryConfig  *RetryConfig
	Input        any
	Metadata     map[string]any
	ParentTaskID string
	AgentID      string
	WorkflowID   string
}

// Schedule is a recurring task definition: a cron expression plus the
// task template it enqueues when due.
type Schedule struct {
	ID         string
	Name       string
	CronExpr   string
	TaskType   string
	Priority   Priority
	MaxRetries int
	Input      any
	UserID     string
	Enabled    bool
	LastRun    *time.Time
	NextRun    time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
