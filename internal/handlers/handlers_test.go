package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"
	"asset-atlas/internal/deps"
	"asset-atlas/internal/orchestrator"
	"asset-atlas/internal/scanner"
	"asset-atlas/internal/thumbs"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// newTestServer wires the full stack behind a router with the production
// route table.
func newTestServer(t *testing.T) (*mux.Router, *database.Database, *database.Project) {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "atlas.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	project, err := db.GetOrCreateProject(context.Background(), t.TempDir(), "api-test")
	if err != nil {
		t.Fatal(err)
	}

	sc := scanner.New(db, scanner.DefaultConfig())
	resolver := deps.New(db)
	gen := thumbs.NewGenerator(db, t.TempDir(), 64, 1024, true)
	orch := orchestrator.New(db, sc, resolver, gen, nil)
	h := New(db, orch, resolver, gen)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/projects", h.SelectRoot).Methods("POST")
	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}/stats", h.ProjectStats).Methods("GET")
	api.HandleFunc("/maintenance/optimize", h.Optimize).Methods("POST")
	api.HandleFunc("/scan/cancel", h.CancelScan).Methods("POST")
	api.HandleFunc("/progress", h.Progress).Methods("GET")
	api.HandleFunc("/assets", h.QueryAssets).Methods("GET")
	api.HandleFunc("/assets/{id}", h.GetAsset).Methods("GET")
	api.HandleFunc("/assets/{id}/dependencies", h.GetDependencies).Methods("GET")
	api.HandleFunc("/assets/{id}/bundle", h.GetBundle).Methods("GET")
	api.HandleFunc("/assets/{id}/thumbnail", h.Thumbnail).Methods("GET")

	return r, db, project
}

func doRequest(t *testing.T, r *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestServer(t)

	rec := doRequest(t, r, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if resp.Status != statusHealthy {
		t.Errorf("status = %q, want %q", resp.Status, statusHealthy)
	}
	if resp.Phase != string(orchestrator.PhaseIdle) {
		t.Errorf("phase = %q, want idle", resp.Phase)
	}
}

func TestQueryAssetsValidation(t *testing.T) {
	t.Parallel()
	r, _, project := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing project", "/api/assets", http.StatusBadRequest},
		{"unknown type", "/api/assets?project=" + project.ID + "&types=video", http.StatusBadRequest},
		{"valid empty result", "/api/assets?project=" + project.ID, http.StatusOK},
		{"valid type filter", "/api/assets?project=" + project.ID + "&types=texture,material", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, r, "GET", tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGetAssetNotFound(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestServer(t)

	rec := doRequest(t, r, "GET", "/api/assets/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSelectRootValidation(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", "{not json", http.StatusBadRequest},
		{"missing root", `{}`, http.StatusBadRequest},
		{"nonexistent root", `{"root": "/no/such/dir"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, r, "POST", "/api/projects", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCancelWithoutScan(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestServer(t)

	rec := doRequest(t, r, "POST", "/api/scan/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestProgressSnapshot(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestServer(t)

	rec := doRequest(t, r, "GET", "/api/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var ev orchestrator.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if ev.Phase != orchestrator.PhaseIdle {
		t.Errorf("phase = %q, want idle", ev.Phase)
	}
}

// TestThumbnailSentinelStatusCodes maps permanent sentinels onto their
// HTTP codes.
func TestThumbnailSentinelStatusCodes(t *testing.T) {
	t.Parallel()
	r, db, project := newTestServer(t)

	dir := t.TempDir()
	srcPNG := filepath.Join(dir, "big.png")
	if err := os.WriteFile(srcPNG, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	srcFBX := filepath.Join(dir, "m.fbx")
	if err := os.WriteFile(srcFBX, []byte("fbx"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Texture over the decode limit (generator limit is 1024 bytes here).
	tooLarge := &database.Asset{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		AbsolutePath: srcPNG,
		RelativePath: "big.png",
		FileName:     "big.png",
		Extension:    "png",
		Type:         assettypes.AssetTypeTexture,
		SizeBytes:    4096,
		ModifiedTime: time.Unix(1700000000, 0),
	}
	// A model has no raster representation at all.
	unsupported := &database.Asset{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		AbsolutePath: srcFBX,
		RelativePath: "m.fbx",
		FileName:     "m.fbx",
		Extension:    "fbx",
		Type:         assettypes.AssetTypeModel,
		SizeBytes:    3,
		ModifiedTime: time.Unix(1700000000, 0),
	}
	if err := db.UpsertBatch([]*database.Asset{tooLarge, unsupported}); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, r, "GET", "/api/assets/"+tooLarge.ID+"/thumbnail", "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("too_large status = %d, want 413", rec.Code)
	}

	rec = doRequest(t, r, "GET", "/api/assets/"+unsupported.ID+"/thumbnail", "")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("unsupported status = %d, want 415", rec.Code)
	}
}

func TestProjectStats(t *testing.T) {
	t.Parallel()
	r, db, project := newTestServer(t)

	texture := &database.Asset{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		AbsolutePath: "/x/t.png",
		RelativePath: "t.png",
		FileName:     "t.png",
		Extension:    "png",
		Type:         assettypes.AssetTypeTexture,
		SizeBytes:    10,
		ModifiedTime: time.Unix(1700000000, 0),
		ExternalID:   "bbbbbbbbbbbbbbbb2222222222222222",
	}
	material := &database.Asset{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		AbsolutePath: "/x/m.mat",
		RelativePath: "m.mat",
		FileName:     "m.mat",
		Extension:    "mat",
		Type:         assettypes.AssetTypeMaterial,
		SizeBytes:    20,
		ModifiedTime: time.Unix(1700000000, 0),
	}
	if err := db.UpsertBatch([]*database.Asset{texture, material}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	err = db.ReplaceEdges(tx, material.ID, []*database.Dependency{{
		ID:           uuid.NewString(),
		FromAssetID:  material.ID,
		ToAssetID:    texture.ID,
		ToExternalID: texture.ExternalID,
		RelationType: "material_texture",
		Confidence:   database.ConfidenceHigh,
	}})
	if err := db.EndBatch(tx, err); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, r, "GET", "/api/projects/"+project.ID+"/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var stats struct {
		TotalAssets int64 `json:"totalAssets"`
		TotalEdges  int64 `json:"totalEdges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalAssets != 2 {
		t.Errorf("totalAssets = %d, want 2", stats.TotalAssets)
	}
	if stats.TotalEdges != 1 {
		t.Errorf("totalEdges = %d, want 1", stats.TotalEdges)
	}

	rec = doRequest(t, r, "GET", "/api/projects/"+uuid.NewString()+"/stats", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown project status = %d, want 404", rec.Code)
	}
}

func TestOptimize(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestServer(t)

	rec := doRequest(t, r, "POST", "/api/maintenance/optimize", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "optimized" {
		t.Errorf("status = %q, want %q", resp.Status, "optimized")
	}
}

// TestGetBundlePayloadKeys pins the bundle payload's field names so clients
// get a uniformly camelCase document.
func TestGetBundlePayloadKeys(t *testing.T) {
	t.Parallel()
	r, db, project := newTestServer(t)

	root := &database.Asset{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		AbsolutePath: "/x/s.scene",
		RelativePath: "s.scene",
		FileName:     "s.scene",
		Extension:    "scene",
		Type:         assettypes.AssetTypeScene,
		SizeBytes:    5,
		ModifiedTime: time.Unix(1700000000, 0),
	}
	if err := db.UpsertBatch([]*database.Asset{root}); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, r, "GET", "/api/assets/"+root.ID+"/bundle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"root", "assets", "edges", "totalSize"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("bundle payload missing %q key (got %v)", key, keysOf(payload))
		}
	}
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
