package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"

	"github.com/gorilla/mux"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// QueryAssets answers paginated catalog queries with optional full-text
// search and type filtering.
func (h *Handlers) QueryAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	projectID := q.Get("project")
	if projectID == "" {
		writeJSONError(w, "project is required", http.StatusBadRequest)
		return
	}

	query := database.AssetQuery{
		ProjectID: projectID,
		Search:    strings.TrimSpace(q.Get("q")),
		Page:      1,
		PageSize:  defaultPageSize,
	}

	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			at := assettypes.AssetType(strings.TrimSpace(t))
			if !assettypes.Valid(at) {
				writeJSONError(w, "unknown asset type: "+string(at), http.StatusBadRequest)
				return
			}
			query.Types = append(query.Types, at)
		}
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		query.Page = page
	}
	if size, err := strconv.Atoi(q.Get("pageSize")); err == nil && size > 0 {
		if size > maxPageSize {
			size = maxPageSize
		}
		query.PageSize = size
	}

	page, err := h.db.QueryAssets(r.Context(), query)
	if err != nil {
		logging.Error("Asset query failed: %v", err)
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, page)
}

// GetAsset returns a single asset record.
func (h *Handlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.lookupAsset(w, r)
	if !ok {
		return
	}
	writeJSON(w, asset)
}

// GetDependencies returns the outgoing edges of an asset.
func (h *Handlers) GetDependencies(w http.ResponseWriter, r *http.Request) {
	h.edges(w, r, h.db.GetDependencies)
}

// GetDependents returns the incoming edges of an asset.
func (h *Handlers) GetDependents(w http.ResponseWriter, r *http.Request) {
	h.edges(w, r, h.db.GetDependents)
}

func (h *Handlers) edges(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, assetID string) ([]database.Dependency, error)) {
	asset, ok := h.lookupAsset(w, r)
	if !ok {
		return
	}

	edges, err := fetch(r.Context(), asset.ID)
	if err != nil {
		logging.Error("Edge query failed for %s: %v", asset.ID, err)
		writeJSONError(w, "edge query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, edges)
}

// GetBundle returns the transitive dependency closure of an asset.
func (h *Handlers) GetBundle(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.lookupAsset(w, r)
	if !ok {
		return
	}

	closure, err := h.resolver.BundleClosure(r.Context(), asset.ID)
	if err != nil {
		logging.Error("Bundle closure failed for %s: %v", asset.ID, err)
		writeJSONError(w, "failed to compute bundle", http.StatusInternalServerError)
		return
	}
	writeJSON(w, closure)
}

// lookupAsset fetches the asset named by the route, writing a 404 on miss.
func (h *Handlers) lookupAsset(w http.ResponseWriter, r *http.Request) (*database.Asset, bool) {
	id := mux.Vars(r)["id"]

	asset, err := h.db.GetAsset(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrAssetNotFound) {
			writeJSONError(w, "asset not found", http.StatusNotFound)
			return nil, false
		}
		logging.Error("Asset lookup failed for %s: %v", id, err)
		writeJSONError(w, "asset lookup failed", http.StatusInternalServerError)
		return nil, false
	}
	return asset, true
}
