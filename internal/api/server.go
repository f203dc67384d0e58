package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskforge/internal/domain"
	"taskforge/internal/schedule"
	"taskforge/internal/scheduler"
)

// Server is the thin HTTP surface over the engine: decode, call, encode.
// All task semantics live behind the scheduler.
type Server struct {
	r     *chi.Mux
	sched *scheduler.Scheduler
	cron  *schedule.Service
}

func NewServer(sched *scheduler.Scheduler, cron *schedule.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, sched: sched, cron: cron}

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)

	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)
	r.Post("/api/tasks/{id}/cancel", s.taskOp((*scheduler.Scheduler).CancelTask))
	r.Post("/api/tasks/{id}/pause", s.taskOp((*scheduler.Scheduler).PauseTask))
	r.Post("/api/tasks/{id}/resume", s.taskOp((*scheduler.Scheduler).ResumeTask))
	r.Post("/api/tasks/{id}/retry", s.taskOp((*scheduler.Scheduler).RetryTask))
	r.Post("/api/tasks/{id}/progress", s.updateProgress)

	r.Post("/api/tasks/cancel-all", s.batch(sched.CancelAll))
	r.Post("/api/tasks/pause-running", s.batch(sched.PauseAllRunning))
	r.Post("/api/tasks/resume-paused", s.batch(sched.ResumeAllPaused))

	r.Post("/api/schedules", s.createSchedule)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/schedules/{id}", s.getSchedule)
	r.Put("/api/schedules/{id}", s.updateSchedule)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

type createTaskReq struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	Priority     string         `json:"priority"`
	MaxRetries   *int           `json:"max_retries"`
	MemoryMB     int            `json:"memory_mb"`
	Input        any            `json:"input"`
	Metadata     map[string]any `json:"metadata"`
	ParentTaskID string         `json:"parent_task_id"`
	AgentID      string         `json:"agent_id"`
	WorkflowID   string         `json:"workflow_id"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	create := domain.CreateTaskRequest{
		Name:         req.Name,
		Type:         req.Type,
		Description:  req.Description,
		MaxRetries:   req.MaxRetries,
		Input:        req.Input,
		Metadata:     req.Metadata,
		ParentTaskID: req.ParentTaskID,
		AgentID:      req.AgentID,
		WorkflowID:   req.WorkflowID,
	}
	if req.Priority != "" {
		p := domain.ParsePriority(req.Priority)
		create.Priority = &p
	}
	if req.MemoryMB > 0 {
		create.Resources = &domain.Resources{MemoryMB: req.MemoryMB}
	}

	t, err := s.sched.CreateTask(create, userID(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, taskJSON(t))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.sched.Store().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskJSON(t))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []domain.Task
	q := r.URL.Query()
	switch {
	case q.Get("status") != "":
		tasks = s.sched.Store().ByStatus(domain.Status(q.Get("status")))
	case q.Get("type") != "":
		tasks = s.sched.Store().ByType(q.Get("type"))
	case q.Get("user") != "":
		tasks = s.sched.Store().ByUser(q.Get("user"))
	default:
		tasks = s.sched.Store().All()
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.DeleteTask(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// taskOp wraps the single-task lifecycle operations sharing the same
// shape: id in, task snapshot out.
func (s *Server) taskOp(op func(*scheduler.Scheduler, string) (domain.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := op(s.sched, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskJSON(t))
	}
}

func (s *Server) updateProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress int `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.sched.UpdateTaskProgress(chi.URLParam(r, "id"), req.Progress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskJSON(t))
}

func (s *Server) batch(op func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"affected": op()})
	}
}

type scheduleReq struct {
	Name       string `json:"name"`
	CronExpr   string `json:"cron_expr"`
	TaskType   string `json:"task_type"`
	Priority   string `json:"priority"`
	MaxRetries int    `json:"max_retries"`
	Input      any    `json:"input"`
	Enabled    *bool  `json:"enabled"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TaskType == "" || req.CronExpr == "" {
		http.Error(w, "task_type and cron_expr are required", http.StatusBadRequest)
		return
	}
	sc, err := s.cron.Create(domain.Schedule{
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		TaskType:   req.TaskType,
		Priority:   domain.ParsePriority(req.Priority),
		MaxRetries: req.MaxRetries,
		Input:      req.Input,
		UserID:     userID(r),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, scheduleJSON(sc))
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := s.cron.List()
	out := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleJSON(sc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.cron.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleJSON(sc))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	err := s.cron.Update(domain.Schedule{
		ID:         chi.URLParam(r, "id"),
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		TaskType:   req.TaskType,
		Priority:   domain.ParsePriority(req.Priority),
		MaxRetries: req.MaxRetries,
		Input:      req.Input,
		Enabled:    enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.cron.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userID(r *http.Request) string {
	if u := r.Header.Get("X-User-ID"); u != "" {
		return u
	}
	return "anonymous"
}

func taskJSON(t domain.Task) map[string]any {
	out := map[string]any{
		"id":          t.ID,
		"user_id":     t.UserID,
		"name":        t.Name,
		"type":        t.Type,
		"priority":    t.Priority.String(),
		"status":      string(t.Status),
		"progress":    t.Progress,
		"retries":     t.Retries,
		"max_retries": t.MaxRetries,
		"created_at":  t.CreatedAt.Format(time.RFC3339),
		"updated_at":  t.UpdatedAt.Format(time.RFC3339),
	}
	if t.Description != "" {
		out["description"] = t.Description
	}
	if t.StartedAt != nil {
		out["started_at"] = t.StartedAt.Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		out["completed_at"] = t.CompletedAt.Format(time.RFC3339)
	}
	if t.Result != nil {
		out["result"] = t.Result
	}
	if t.Error != "" {
		out["error"] = t.Error
	}
	if t.ParentTaskID != "" {
		out["parent_task_id"] = t.ParentTaskID
	}
	return out
}

func scheduleJSON(sc domain.Schedule) map[string]any {
	out := map[string]any{
		"id":          sc.ID,
		"name":        sc.Name,
		"cron_expr":   sc.CronExpr,
		"task_type":   sc.TaskType,
		"priority":    sc.Priority.String(),
		"max_retries": sc.MaxRetries,
		"enabled":     sc.Enabled,
		"next_run":    sc.NextRun.Format(time.RFC3339),
	}
	if sc.LastRun != nil {
		out["last_run"] = sc.LastRun.Format(time.RFC3339)
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrScheduleNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
