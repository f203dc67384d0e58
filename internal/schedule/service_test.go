package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/domain"
)

type fakeCreator struct {
	mu   sync.Mutex
	reqs []domain.CreateTaskRequest
}

func (f *fakeCreator) CreateTask(req domain.CreateTaskRequest, userID string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return domain.Task{ID: "tsk_fake", Type: req.Type, UserID: userID}, nil
}

func (f *fakeCreator) created() []domain.CreateTaskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CreateTaskRequest(nil), f.reqs...)
}

type fakePruner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePruner) PruneFinished(time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0
}

func newService(creator TaskCreator) *Service {
	return NewService(creator, nil, time.Second, 0, zerolog.Nop())
}

func TestCreateValidatesCron(t *testing.T) {
	svc := newService(&fakeCreator{})

	sc, err := svc.Create(domain.Schedule{Name: "nightly", CronExpr: "0 2 * * *", TaskType: "shell"})
	require.NoError(t, err)
	assert.NotEmpty(t, sc.ID)
	assert.True(t, sc.Enabled)
	assert.False(t, sc.NextRun.IsZero())

	_, err = svc.Create(domain.Schedule{Name: "bad", CronExpr: "not a cron", TaskType: "shell"})
	assert.Error(t, err)
}

func TestGetListDelete(t *testing.T) {
	svc := newService(&fakeCreator{})

	sc, err := svc.Create(domain.Schedule{Name: "a", CronExpr: "* * * * *", TaskType: "shell"})
	require.NoError(t, err)

	got, err := svc.Get(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	assert.Len(t, svc.List(), 1)

	require.NoError(t, svc.Delete(sc.ID))
	assert.Empty(t, svc.List())
	_, err = svc.Get(sc.ID)
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
	assert.ErrorIs(t, svc.Delete(sc.ID), domain.ErrScheduleNotFound)
}

func TestUpdateRecomputesNextRun(t *testing.T) {
	svc := newService(&fakeCreator{})

	sc, err := svc.Create(domain.Schedule{Name: "a", CronExpr: "0 2 * * *", TaskType: "shell"})
	require.NoError(t, err)

	sc.Name = "renamed"
	sc.CronExpr = "*/5 * * * *"
	require.NoError(t, svc.Update(sc))

	got, err := svc.Get(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "*/5 * * * *", got.CronExpr)
	assert.True(t, got.NextRun.Before(time.Now().Add(6*time.Minute)))

	sc.CronExpr = "garbage"
	assert.Error(t, svc.Update(sc))

	err = svc.Update(domain.Schedule{ID: "sch_missing", CronExpr: "* * * * *"})
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func TestProcessDueFiresAndAdvances(t *testing.T) {
	creator := &fakeCreator{}
	svc := newService(creator)

	sc, err := svc.Create(domain.Schedule{
		Name:       "every-minute",
		CronExpr:   "* * * * *",
		TaskType:   "shell",
		Priority:   domain.PriorityHigh,
		MaxRetries: 2,
		Input:      map[string]any{"command": "true"},
	})
	require.NoError(t, err)

	// Not due yet: NextRun is in the future relative to creation.
	svc.processDue(time.Now())
	assert.Empty(t, creator.created())

	fireAt := sc.NextRun.Add(time.Second)
	svc.processDue(fireAt)

	reqs := creator.created()
	require.Len(t, reqs, 1)
	assert.Equal(t, "shell", reqs[0].Type)
	assert.Equal(t, "every-minute", reqs[0].Name)
	require.NotNil(t, reqs[0].Priority)
	assert.Equal(t, domain.PriorityHigh, *reqs[0].Priority)
	require.NotNil(t, reqs[0].MaxRetries)
	assert.Equal(t, 2, *reqs[0].MaxRetries)

	got, err := svc.Get(sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.NextRun.After(fireAt))

	// Firing again at the same instant is a no-op: NextRun advanced.
	svc.processDue(fireAt)
	assert.Len(t, creator.created(), 1)
}

func TestDisabledScheduleNeverFires(t *testing.T) {
	creator := &fakeCreator{}
	svc := newService(creator)

	sc, err := svc.Create(domain.Schedule{Name: "off", CronExpr: "* * * * *", TaskType: "shell"})
	require.NoError(t, err)
	sc.Enabled = false
	require.NoError(t, svc.Update(sc))

	svc.processDue(sc.NextRun.Add(time.Hour))
	assert.Empty(t, creator.created())
}

func TestStartLoopPrunes(t *testing.T) {
	creator := &fakeCreator{}
	pruner := &fakePruner{}
	svc := NewService(creator, pruner, 10*time.Millisecond, time.Hour, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		svc.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		pruner.mu.Lock()
		defer pruner.mu.Unlock()
		return pruner.calls > 0
	}, 2*time.Second, 5*time.Millisecond)

	svc.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("*/10 * * * *"))
	assert.NoError(t, ValidateCronExpression("@hourly"))
	assert.Error(t, ValidateCronExpression(""))
	assert.Error(t, ValidateCronExpression("61 * * * *"))
}

func TestNextRunTime(t *testing.T) {
	from := time.Date(2025, 3, 10, 1, 30, 0, 0, time.UTC)
	next, err := NextRunTime("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), next)

	_, err = NextRunTime("bogus", from)
	assert.Error(t, err)
}
