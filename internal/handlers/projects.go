package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/orchestrator"

	"github.com/gorilla/mux"
)

type selectRootRequest struct {
	Root string `json:"root"`
}

// SelectRoot registers a project root and kicks off a pipeline run for it.
// An active run for a previous root is cancelled and superseded.
func (h *Handlers) SelectRoot(w http.ResponseWriter, r *http.Request) {
	var req selectRootRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Root == "" {
		writeJSONError(w, "root is required", http.StatusBadRequest)
		return
	}

	root, err := filepath.Abs(req.Root)
	if err != nil {
		writeJSONError(w, "invalid root path", http.StatusBadRequest)
		return
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		writeJSONError(w, "root is not a directory", http.StatusBadRequest)
		return
	}

	project, err := h.orch.SelectRoot(r.Context(), root)
	if err != nil {
		logging.Error("Failed to select root %s: %v", root, err)
		writeJSONError(w, "failed to select root", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, project)
}

// ListProjects returns all registered projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.db.ListProjects(r.Context())
	if err != nil {
		logging.Error("Failed to list projects: %v", err)
		writeJSONError(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	writeJSON(w, projects)
}

// StartScan starts a pipeline run for an existing project.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	project, err := h.orch.StartScan(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrProjectNotFound) {
			writeJSONError(w, "project not found", http.StatusNotFound)
			return
		}
		logging.Error("Failed to start scan for project %s: %v", id, err)
		writeJSONError(w, "failed to start scan", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, project)
}

// CancelScan cancels the active pipeline run.
func (h *Handlers) CancelScan(w http.ResponseWriter, _ *http.Request) {
	if err := h.orch.CancelScan(); err != nil {
		if errors.Is(err, orchestrator.ErrNoActiveRun) {
			writeJSONError(w, "no scan in progress", http.StatusConflict)
			return
		}
		writeJSONError(w, "failed to cancel scan", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, "cancelled")
}
