// Package api serves the read-only admin endpoints.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"taskhooks/pkg/gitlabhook"
	"taskhooks/pkg/storage"
)

// EventsHandler lists the event kinds the GitLab integration can emit.
type EventsHandler struct{}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, gitlabhook.Kinds())
}

// TasksHandler looks a task up by id, or by project and external reference.
type TasksHandler struct {
	Store  storage.TaskStore
	Logger *log.Logger
}

func (h *TasksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	var (
		record *storage.TaskRecord
		err    error
	)
	if raw := strings.TrimSpace(query.Get("id")); raw != "" {
		id, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || id <= 0 {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		record, err = h.Store.FindByID(r.Context(), id)
	} else {
		projectID, parseErr := strconv.ParseInt(strings.TrimSpace(query.Get("project_id")), 10, 64)
		if parseErr != nil || projectID <= 0 {
			http.Error(w, "missing project_id", http.StatusBadRequest)
			return
		}
		reference := strings.TrimSpace(query.Get("reference"))
		if reference == "" {
			http.Error(w, "missing reference", http.StatusBadRequest)
			return
		}
		record, err = h.Store.FindByReference(r.Context(), projectID, reference)
	}
	if err != nil {
		http.Error(w, "task lookup failed", http.StatusInternalServerError)
		if h.Logger != nil {
			h.Logger.Printf("task lookup failed: %v", err)
		}
		return
	}
	if record == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	writeJSON(w, record)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
