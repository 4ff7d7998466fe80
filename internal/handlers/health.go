package handlers

import (
	"net/http"
	"runtime"

	"asset-atlas/internal/orchestrator"
	"asset-atlas/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusIndexing = "indexing"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Phase       string `json:"phase"`
	LastIndexed string `json:"lastIndexed,omitempty"`
	TotalAssets int    `json:"totalAssets,omitempty"`
	TotalEdges  int    `json:"totalEdges,omitempty"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. The service is
// healthy whenever it can answer; an active pipeline run is reported but
// does not degrade the status.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	phase := h.orch.Phase()
	stats := h.db.GetStats()

	response := HealthResponse{
		Status:       statusHealthy,
		Version:      startup.Version,
		Phase:        string(phase),
		TotalAssets:  stats.TotalAssets,
		TotalEdges:   stats.TotalEdges,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	switch phase {
	case orchestrator.PhaseIdle, orchestrator.PhaseComplete, orchestrator.PhaseCancelled:
	default:
		response.Status = statusIndexing
	}

	if !stats.LastIndexed.IsZero() {
		response.LastIndexed = stats.LastIndexed.Format("2006-01-02T15:04:05Z07:00")
	}

	writeJSON(w, response)
}

// Progress returns the latest pipeline progress snapshot.
func (h *Handlers) Progress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.orch.Snapshot())
}
