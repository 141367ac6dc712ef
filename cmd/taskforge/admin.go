package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/taskforge/internal/config"
	"github.com/Strob0t/taskforge/internal/executor"
)

// adminHandlers exposes the thin admin/introspection HTTP surface named in
// the external interfaces: a health check, a live-task listing, and an
// abort endpoint. None of this sits on the execution critical path — every
// handler reads from or calls into the Executor facade, never the store
// directly.
type adminHandlers struct {
	exec *executor.Executor
	cfg  *config.Config
}

func mountAdminRoutes(r chi.Router, h *adminHandlers) {
	r.Get("/health", h.health)
	r.Get("/tasks", h.listLiveTasks)
	r.Post("/tasks/{id}/abort", h.abortTask)
	r.Get("/task-types", h.listTaskTypes)
}

type healthResponse struct {
	Status   string `json:"status"`
	Postgres bool   `json:"postgres_configured"`
	NATS     bool   `json:"nats_configured"`
}

func (h *adminHandlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Postgres: h.cfg.Postgres.DSN != "",
		NATS:     h.cfg.NATS.URL != "",
	})
}

// liveTaskView is the wire shape of a live task in the admin listing. It
// supplements the stock TaskRecord fields with the heartbeat-staleness
// signal supplemented from the original implementation: how long since the
// record last moved, so an operator can spot a task that stopped
// heartbeating without waiting for a time limit or abort grace to fire.
type liveTaskView struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	State        string    `json:"state"`
	Owner        string    `json:"owner"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	HeartbeatAge string    `json:"heartbeat_age"`
}

func (h *adminHandlers) listLiveTasks(w http.ResponseWriter, _ *http.Request) {
	records := h.exec.LiveTasks()
	out := make([]liveTaskView, 0, len(records))
	for _, rec := range records {
		out = append(out, liveTaskView{
			ID:           rec.ID,
			Type:         rec.Type,
			State:        string(rec.State),
			Owner:        rec.Owner,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
			HeartbeatAge: time.Since(rec.UpdatedAt).Round(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *adminHandlers) abortTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.exec.Abort(id)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not live"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rec.ID, "state": string(rec.State)})
}

func (h *adminHandlers) listTaskTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.exec.Available())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
