package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"taskforge/internal/domain"
)

// TaskCreator is the slice of the scheduler the service enqueues
// through.
type TaskCreator interface {
	CreateTask(req domain.CreateTaskRequest, userID string) (domain.Task, error)
}

// Pruner trims terminal status indices past the retention window.
type Pruner interface {
	PruneFinished(retention time.Duration) int
}

// Service fires recurring schedules: each tick it enqueues a task for
// every schedule whose next run is due, then advances the schedule's
// next-run time from its cron expression. The same loop prunes
// finished task indices past the retention window.
type Service struct {
	mu        sync.Mutex
	schedules map[string]*domain.Schedule

	creator   TaskCreator
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	stop      chan struct{}

	log zerolog.Logger
}

func NewService(creator TaskCreator, pruner Pruner, checkInterval, retention time.Duration, log zerolog.Logger) *Service {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	return &Service{
		schedules: make(map[string]*domain.Schedule),
		creator:   creator,
		pruner:    pruner,
		retention: retention,
		interval:  checkInterval,
		stop:      make(chan struct{}),
		log:       log.With().Str("component", "schedule").Logger(),
	}
}

// Create registers a schedule. The cron expression is validated and
// the first run time computed up front.
func (s *Service) Create(in domain.Schedule) (domain.Schedule, error) {
	next, err := NextRunTime(in.CronExpr, time.Now())
	if err != nil {
		return domain.Schedule{}, err
	}

	now := time.Now()
	in.ID = "sch_" + uuid.NewString()
	in.Enabled = true
	in.NextRun = next
	in.CreatedAt = now
	in.UpdatedAt = now

	s.mu.Lock()
	stored := in
	s.schedules[in.ID] = &stored
	s.mu.Unlock()

	s.log.Info().Str("schedule_id", in.ID).Str("name", in.Name).
		Str("cron_expr", in.CronExpr).Time("next_run", next).
		Msg("schedule created")
	return in, nil
}

// Get returns a schedule by id.
func (s *Service) Get(id string) (domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return domain.Schedule{}, domain.ErrScheduleNotFound
	}
	return *sc, nil
}

// List returns all schedules.
func (s *Service) List() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, *sc)
	}
	return out
}

// Update replaces a schedule's definition, revalidating its cron
// expression and recomputing the next run.
func (s *Service) Update(in domain.Schedule) error {
	next, err := NextRunTime(in.CronExpr, time.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[in.ID]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	sc.Name = in.Name
	sc.CronExpr = in.CronExpr
	sc.TaskType = in.TaskType
	sc.Priority = in.Priority
	sc.MaxRetries = in.MaxRetries
	sc.Input = in.Input
	sc.Enabled = in.Enabled
	sc.NextRun = next
	sc.UpdatedAt = time.Now()
	return nil
}

// Delete removes a schedule.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return domain.ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("schedule service started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.processDue(now)
			if s.pruner != nil && s.retention > 0 {
				s.pruner.PruneFinished(s.retention)
			}
		}
	}
}

func (s *Service) Stop() {
	close(s.stop)
}

func (s *Service) processDue(now time.Time) {
	s.mu.Lock()
	var due []*domain.Schedule
	for _, sc := range s.schedules {
		if sc.Enabled && !sc.NextRun.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		if err := s.fire(sc, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sc.ID).Msg("failed to fire schedule")
		}
	}
}

func (s *Service) fire(sc *domain.Schedule, now time.Time) error {
	next, err := NextRunTime(sc.CronExpr, now)
	if err != nil {
		return err
	}

	prio := sc.Priority
	maxRetries := sc.MaxRetries
	req := domain.CreateTaskRequest{
		Name:     sc.Name,
		Type:     sc.TaskType,
		Priority: &prio,
		Input:    sc.Input,
	}
	if maxRetries > 0 {
		req.MaxRetries = &maxRetries
	}

	t, err := s.creator.CreateTask(req, sc.UserID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ran := now
	sc.LastRun = &ran
	sc.NextRun = next
	sc.UpdatedAt = now
	s.mu.Unlock()

	s.log.Info().
		Str("schedule_id", sc.ID).
		Str("schedule_name", sc.Name).
		Str("task_id", t.ID).
		Time("next_run", next).
		Msg("scheduled task enqueued")
	return nil
}

// ValidateCronExpression validates a cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
