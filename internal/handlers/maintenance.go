package handlers

import (
	"errors"
	"net/http"
	"time"

	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"

	"github.com/gorilla/mux"
)

type optimizeResponse struct {
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

// Optimize rebuilds the full-text index and vacuums the database. Intended
// for occasional manual use after large deletions.
func (h *Handlers) Optimize(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()

	if err := h.db.RebuildFTS(); err != nil {
		logging.Error("FTS rebuild failed: %v", err)
		writeJSONError(w, "search index rebuild failed", http.StatusInternalServerError)
		return
	}
	if err := h.db.Vacuum(); err != nil {
		logging.Error("Vacuum failed: %v", err)
		writeJSONError(w, "vacuum failed", http.StatusInternalServerError)
		return
	}

	duration := time.Since(start).Round(time.Millisecond)
	logging.Info("Database optimized in %v", duration)
	writeJSON(w, optimizeResponse{Status: "optimized", Duration: duration.String()})
}

type projectStatsResponse struct {
	ProjectID   string               `json:"projectId"`
	TotalAssets int64                `json:"totalAssets"`
	TotalEdges  int64                `json:"totalEdges"`
	TypeCounts  []database.TypeCount `json:"typeCounts"`
}

// ProjectStats reports per-project asset and edge counts.
func (h *Handlers) ProjectStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	if _, err := h.db.GetProject(ctx, id); err != nil {
		if errors.Is(err, database.ErrProjectNotFound) {
			writeJSONError(w, "project not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to load project", http.StatusInternalServerError)
		return
	}

	counts, err := h.db.GetTypeCounts(ctx, id)
	if err != nil {
		logging.Error("Failed to count assets for project %s: %v", id, err)
		writeJSONError(w, "failed to count assets", http.StatusInternalServerError)
		return
	}
	edges, err := h.db.CountEdges(ctx, id)
	if err != nil {
		logging.Error("Failed to count edges for project %s: %v", id, err)
		writeJSONError(w, "failed to count edges", http.StatusInternalServerError)
		return
	}

	var totalAssets int64
	for _, c := range counts {
		totalAssets += c.Count
	}

	writeJSON(w, projectStatsResponse{
		ProjectID:   id,
		TotalAssets: totalAssets,
		TotalEdges:  edges,
		TypeCounts:  counts,
	})
}
