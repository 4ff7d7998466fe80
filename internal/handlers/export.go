package handlers

import (
	"net/http"
	"path/filepath"

	"asset-atlas/internal/logging"
)

type exportRequest struct {
	Dest string `json:"dest"`
}

// ExportBundle writes the bundle manifest for an asset's dependency closure
// to the requested destination directory.
func (h *Handlers) ExportBundle(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.lookupAsset(w, r)
	if !ok {
		return
	}

	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Dest == "" {
		writeJSONError(w, "dest is required", http.StatusBadRequest)
		return
	}

	dest, err := filepath.Abs(req.Dest)
	if err != nil {
		writeJSONError(w, "invalid dest path", http.StatusBadRequest)
		return
	}

	manifest, err := h.exporter.ExportBundle(r.Context(), asset.ID, dest)
	if err != nil {
		logging.Error("Export failed for %s: %v", asset.RelativePath, err)
		writeJSONError(w, "export failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, manifest)
}

// BundleManifest returns the manifest for an asset's closure without
// writing anything to disk.
func (h *Handlers) BundleManifest(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.lookupAsset(w, r)
	if !ok {
		return
	}

	manifest, err := h.exporter.Manifest(r.Context(), asset.ID)
	if err != nil {
		logging.Error("Manifest build failed for %s: %v", asset.RelativePath, err)
		writeJSONError(w, "manifest build failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, manifest)
}
