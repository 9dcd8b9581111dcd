// Package frontend exposes the daemon's HTTP surface: wait submission and
// control, the task journal operations, and a health endpoint.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vigil-run/vigil/internal/build"
	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/journal"
	"github.com/vigil-run/vigil/internal/models"
	"github.com/vigil-run/vigil/internal/waitengine"
)

// WaitService is the slice of the wait scheduler the API drives.
type WaitService interface {
	Submit(ctx context.Context, req waitengine.SubmitRequest) (*waitengine.WaitJob, error)
	Cancel(ctx context.Context, waitID, reason string) (bool, error)
	Update(ctx context.Context, req waitengine.UpdateRequest) error
	JobStatusByID(waitID string) (*waitengine.JobStatus, bool)
	ActiveJobs() []waitengine.JobStatus
}

// HealthChecker reports the vision backend's reachability.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) error
}

// API holds the handler dependencies.
type API struct {
	waits          WaitService
	store          *journal.Store
	backend        HealthChecker
	defaultDisplay string
	startedAt      time.Time
}

// NewAPI wires the handlers.
func NewAPI(waits WaitService, store *journal.Store, backend HealthChecker, defaultDisplay string) *API {
	return &API{
		waits:          waits,
		store:          store,
		backend:        backend,
		defaultDisplay: defaultDisplay,
		startedAt:      time.Now(),
	}
}

// ConfigureRoutes mounts every endpoint on r.
func (a *API) ConfigureRoutes(r chi.Router) {
	r.Get("/health", a.handleHealth)

	r.Route("/waits", func(r chi.Router) {
		r.Post("/", a.handleSubmitWait)
		r.Get("/", a.handleListWaits)
		r.Get("/{waitID}", a.handleWaitStatus)
		r.Patch("/{waitID}", a.handleUpdateWait)
		r.Delete("/{waitID}", a.handleCancelWait)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", a.handleRegisterTask)
		r.Get("/", a.handleListTasks)
		r.Get("/{taskID}", a.handleTaskSummary)
		r.Patch("/{taskID}", a.handleUpdateTask)
		r.Get("/{taskID}/items/{ordinal}", a.handleTaskDetail)
		r.Patch("/{taskID}/items/{ordinal}", a.handleUpdatePlanItem)
		r.Post("/{taskID}/actions", a.handleLogAction)
		r.Get("/{taskID}/thread", a.handleThread)
		r.Post("/{taskID}/messages", a.handlePostMessage)
	})
}

type submitWaitRequest struct {
	Target       string  `json:"target"`
	WakeWhen     string  `json:"wake_when"`
	Timeout      int     `json:"timeout,omitempty"`
	PollInterval float64 `json:"poll_interval,omitempty"`
	TaskID       string  `json:"task_id,omitempty"`
}

func (a *API) handleSubmitWait(w http.ResponseWriter, r *http.Request) {
	var req submitWaitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Target == "" || req.WakeWhen == "" {
		writeError(w, http.StatusBadRequest, "target and wake_when are required")
		return
	}

	display := a.defaultDisplay
	if req.TaskID != "" {
		task, err := a.store.GetTask(r.Context(), req.TaskID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if d := task.Metadata.Display(); d != "" {
			display = d
		}
	}

	job, err := a.waits.Submit(r.Context(), waitengine.SubmitRequest{
		Target:       req.Target,
		Criteria:     req.WakeWhen,
		Timeout:      time.Duration(req.Timeout) * time.Second,
		PollInterval: time.Duration(req.PollInterval * float64(time.Second)),
		TaskID:       req.TaskID,
		Display:      display,
	})
	if err != nil {
		if errors.Is(err, waitengine.ErrInvalidTarget) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"wait_id": job.ID,
		"status":  core.WaitWatching.String(),
		"target":  job.Target(),
		"message": "Watching " + job.Target() + " for: " + job.Criteria(),
	})
}

func (a *API) handleListWaits(w http.ResponseWriter, _ *http.Request) {
	jobs := a.waits.ActiveJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_jobs": jobs,
		"count":       len(jobs),
	})
}

func (a *API) handleWaitStatus(w http.ResponseWriter, r *http.Request) {
	waitID := chi.URLParam(r, "waitID")
	if st, ok := a.waits.JobStatusByID(waitID); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}
	// Not live; report the durable row for finished jobs.
	row, err := a.store.GetWait(r.Context(), waitID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wait_id":  row.ID,
		"status":   row.Status,
		"target":   row.Target(),
		"criteria": row.Criteria,
		"result":   row.Result,
	})
}

type updateWaitRequest struct {
	WakeWhen string `json:"wake_when,omitempty"`
	Timeout  int    `json:"timeout,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (a *API) handleUpdateWait(w http.ResponseWriter, r *http.Request) {
	var req updateWaitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	waitID := chi.URLParam(r, "waitID")
	err := a.waits.Update(r.Context(), waitengine.UpdateRequest{
		WaitID:   waitID,
		Criteria: req.WakeWhen,
		Timeout:  time.Duration(req.Timeout) * time.Second,
		Message:  req.Message,
	})
	if err != nil {
		if errors.Is(err, waitengine.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wait_id": waitID, "updated": true})
}

type cancelWaitRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleCancelWait(w http.ResponseWriter, r *http.Request) {
	var req cancelWaitRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	waitID := chi.URLParam(r, "waitID")
	found, err := a.waits.Cancel(r.Context(), waitID, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no active wait job: "+waitID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wait_id": waitID, "cancelled": true})
}

type registerTaskRequest struct {
	Name     string          `json:"name"`
	Plan     []string        `json:"plan,omitempty"`
	Metadata models.TaskMeta `json:"metadata,omitempty"`
}

func (a *API) handleRegisterTask(w http.ResponseWriter, r *http.Request) {
	var req registerTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	task, err := a.store.RegisterTask(r.Context(), req.Name, req.Plan, req.Metadata)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type updateTaskRequest struct {
	Message string `json:"message,omitempty"`
	Query   string `json:"query,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != "" {
		if _, err := core.ParseTaskStatus(req.Status); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	taskID := chi.URLParam(r, "taskID")
	task, err := a.store.UpdateTask(r.Context(), taskID, journal.UpdateTaskRequest{
		Message: req.Message,
		Status:  req.Status,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// A query answers with the progress snapshot instead of the bare task.
	if req.Query != "" {
		answer, err := a.store.QueryTask(r.Context(), taskID, req.Query)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, answer)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type updatePlanItemRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (a *API) handleUpdatePlanItem(w http.ResponseWriter, r *http.Request) {
	var req updatePlanItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ordinal, ok := parseOrdinal(w, r)
	if !ok {
		return
	}
	if _, err := core.ParseItemStatus(req.Status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := a.store.UpdatePlanItem(r.Context(), chi.URLParam(r, "taskID"), ordinal, req.Status, req.Note)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type logActionRequest struct {
	ActionType string `json:"action_type"`
	Summary    string `json:"summary"`
	InputData  string `json:"input_data,omitempty"`
	OutputData string `json:"output_data,omitempty"`
	Status     string `json:"status,omitempty"`
	Ordinal    *int   `json:"ordinal,omitempty"`
}

func (a *API) handleLogAction(w http.ResponseWriter, r *http.Request) {
	var req logActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := models.ValidateActionKind(req.ActionType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != "" {
		if _, err := core.ParseActionStatus(req.Status); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	action, err := a.store.LogAction(r.Context(), chi.URLParam(r, "taskID"),
		req.ActionType, req.Summary, req.InputData, req.OutputData, req.Status, req.Ordinal)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (a *API) handleTaskSummary(w http.ResponseWriter, r *http.Request) {
	detail := r.URL.Query().Get("detail")
	switch detail {
	case "", journal.DetailItems, journal.DetailFocused, journal.DetailActions, journal.DetailFull:
	default:
		writeError(w, http.StatusBadRequest, "invalid detail level: "+detail)
		return
	}
	summary, err := a.store.GetSummary(r.Context(), chi.URLParam(r, "taskID"), detail)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	ordinal, ok := parseOrdinal(w, r)
	if !ok {
		return
	}
	item, actions, err := a.store.GetTaskDetail(r.Context(), chi.URLParam(r, "taskID"), ordinal)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "actions": actions})
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != "all" {
		if _, err := core.ParseTaskStatus(status); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit := queryInt(r, "limit", 20)
	tasks, err := a.store.ListTasks(r.Context(), status, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (a *API) handleThread(w http.ResponseWriter, r *http.Request) {
	messages, items, err := a.store.GetThread(r.Context(), chi.URLParam(r, "taskID"),
		queryInt(r, "limit", 20))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "items": items})
}

type postMessageRequest struct {
	Role    string `json:"role,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	msg, err := a.store.PostMessage(r.Context(), chi.URLParam(r, "taskID"), req.Role, req.Type, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	backend := map[string]any{"name": a.backend.Name(), "status": "ok"}
	if err := a.backend.Health(r.Context()); err != nil {
		backend["status"] = "error"
		backend["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        build.Version,
		"uptime_seconds": int(time.Since(a.startedAt).Seconds()),
		"backend":        backend,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or not a positive integer.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseOrdinal(w http.ResponseWriter, r *http.Request) (int, bool) {
	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ordinal: "+chi.URLParam(r, "ordinal"))
		return 0, false
	}
	return ordinal, true
}

// writeStoreError maps journal errors to status codes: unknown ids are 404,
// everything else is a server failure.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, journal.ErrTaskNotFound),
		errors.Is(err, journal.ErrItemNotFound),
		errors.Is(err, journal.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
