package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"asset-atlas/internal/assettypes"

	"github.com/google/uuid"
)

// newTestDB opens a fresh database in a temp directory.
func newTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "atlas.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testAsset builds a minimal asset row for a project.
func testAsset(projectID, relPath string, at assettypes.AssetType) *Asset {
	return &Asset{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		AbsolutePath: "/tmp/project/" + relPath,
		RelativePath: relPath,
		FileName:     filepath.Base(relPath),
		Extension:    "png",
		Type:         at,
		SizeBytes:    1024,
		ModifiedTime: time.Unix(1700000000, 0),
	}
}

func TestGetOrCreateProject(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.GetOrCreateProject(ctx, "/projects/alpha", "alpha")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := db.GetOrCreateProject(ctx, "/projects/alpha", "alpha")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same root produced different projects: %s vs %s", first.ID, second.ID)
	}

	other, err := db.GetOrCreateProject(ctx, "/projects/beta", "beta")
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("distinct roots share a project id")
	}

	if _, err := db.GetProject(ctx, "missing"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

// TestUpsertKeepsAssetID verifies that re-upserting the same relative path
// preserves the original row id, so edges keyed to it survive a rescan.
func TestUpsertKeepsAssetID(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	project, err := db.GetOrCreateProject(ctx, "/projects/ids", "ids")
	if err != nil {
		t.Fatal(err)
	}

	original := testAsset(project.ID, "Textures/a.png", assettypes.AssetTypeTexture)
	if err := db.UpsertBatch([]*Asset{original}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	changed := testAsset(project.ID, "Textures/a.png", assettypes.AssetTypeTexture)
	changed.SizeBytes = 2048
	changed.ModifiedTime = time.Unix(1700000500, 0)
	if err := db.UpsertBatch([]*Asset{changed}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := db.GetAsset(ctx, original.ID)
	if err != nil {
		t.Fatalf("asset lost its id on re-upsert: %v", err)
	}
	if got.SizeBytes != 2048 {
		t.Errorf("size not updated: got %d, want 2048", got.SizeBytes)
	}

	snapshot, err := db.Snapshot(ctx, project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 snapshot entry, got %d", len(snapshot))
	}
	if state := snapshot["Textures/a.png"]; state.AssetID != original.ID {
		t.Errorf("snapshot id = %s, want %s", state.AssetID, original.ID)
	}
}

// TestDeleteMissing verifies that rows absent from the seen set are removed
// and everything seen survives.
func TestDeleteMissing(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	project, err := db.GetOrCreateProject(ctx, "/projects/del", "del")
	if err != nil {
		t.Fatal(err)
	}

	kept := testAsset(project.ID, "keep.png", assettypes.AssetTypeTexture)
	gone := testAsset(project.ID, "gone.png", assettypes.AssetTypeTexture)
	if err := db.UpsertBatch([]*Asset{kept, gone}); err != nil {
		t.Fatal(err)
	}

	deleted, err := db.DeleteMissing(project.ID, map[string]struct{}{"keep.png": {}})
	if err != nil {
		t.Fatalf("DeleteMissing failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := db.GetAsset(ctx, kept.ID); err != nil {
		t.Errorf("seen asset was deleted: %v", err)
	}
	if _, err := db.GetAsset(ctx, gone.ID); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound for unseen asset, got %v", err)
	}
}

// TestDeleteMissingDetachesIncomingEdges verifies the delete semantics for
// the dependency graph: outgoing edges vanish with their source, incoming
// edges revert to unresolved.
func TestDeleteMissingDetachesIncomingEdges(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	project, err := db.GetOrCreateProject(ctx, "/projects/edges", "edges")
	if err != nil {
		t.Fatal(err)
	}

	texture := testAsset(project.ID, "a.png", assettypes.AssetTypeTexture)
	texture.ExternalID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	material := testAsset(project.ID, "b.mat", assettypes.AssetTypeMaterial)
	if err := db.UpsertBatch([]*Asset{texture, material}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	err = db.ReplaceEdges(tx, material.ID, []*Dependency{{
		ID:           uuid.NewString(),
		FromAssetID:  material.ID,
		ToAssetID:    texture.ID,
		ToExternalID: texture.ExternalID,
		RelationType: "material_texture",
		Confidence:   ConfidenceHigh,
	}})
	if err := db.EndBatch(tx, err); err != nil {
		t.Fatal(err)
	}

	// Delete the texture; the material's edge should survive unresolved.
	if _, err := db.DeleteMissing(project.ID, map[string]struct{}{"b.mat": {}}); err != nil {
		t.Fatal(err)
	}

	edges, err := db.GetDependencies(ctx, material.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].Resolved() {
		t.Error("edge still resolved after target deletion")
	}
	if edges[0].ToExternalID != texture.ExternalID {
		t.Errorf("raw id lost: got %q", edges[0].ToExternalID)
	}
}

// TestResolveDanglingEdges verifies that unresolved edges attach when a
// matching external id appears.
func TestResolveDanglingEdges(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	project, err := db.GetOrCreateProject(ctx, "/projects/dangling", "dangling")
	if err != nil {
		t.Fatal(err)
	}

	material := testAsset(project.ID, "m.mat", assettypes.AssetTypeMaterial)
	if err := db.UpsertBatch([]*Asset{material}); err != nil {
		t.Fatal(err)
	}

	extID := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	tx, err := db.BeginBatch()
	if err != nil {
		t.Fatal(err)
	}
	err = db.ReplaceEdges(tx, material.ID, []*Dependency{{
		ID:           uuid.NewString(),
		FromAssetID:  material.ID,
		ToExternalID: extID,
		RelationType: "reference",
		Confidence:   ConfidenceMedium,
	}})
	if err := db.EndBatch(tx, err); err != nil {
		t.Fatal(err)
	}

	texture := testAsset(project.ID, "late.png", assettypes.AssetTypeTexture)
	texture.ExternalID = extID
	if err := db.UpsertBatch([]*Asset{texture}); err != nil {
		t.Fatal(err)
	}

	resolved, err := db.ResolveDanglingEdges(ctx, project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != 1 {
		t.Errorf("resolved = %d, want 1", resolved)
	}

	edges, err := db.GetDependencies(ctx, material.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].ToAssetID != texture.ID {
		t.Errorf("edge did not attach to %s: %+v", texture.ID, edges)
	}
}

// TestQueryAssets covers search, type filters, and pagination.
func TestQueryAssets(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	project, err := db.GetOrCreateProject(ctx, "/projects/query", "query")
	if err != nil {
		t.Fatal(err)
	}

	rows := []*Asset{
		testAsset(project.ID, "Textures/rock_albedo.png", assettypes.AssetTypeTexture),
		testAsset(project.ID, "Textures/rock_normal.png", assettypes.AssetTypeTexture),
		testAsset(project.ID, "Materials/rock.mat", assettypes.AssetTypeMaterial),
		testAsset(project.ID, "Audio/wind.wav", assettypes.AssetTypeAudio),
	}
	if err := db.UpsertBatch(rows); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		query     AssetQuery
		wantTotal int
	}{
		{
			name:      "all assets",
			query:     AssetQuery{ProjectID: project.ID},
			wantTotal: 4,
		},
		{
			name:      "search by name fragment",
			query:     AssetQuery{ProjectID: project.ID, Search: "rock"},
			wantTotal: 3,
		},
		{
			name: "search plus type filter",
			query: AssetQuery{
				ProjectID: project.ID,
				Search:    "rock",
				Types:     []assettypes.AssetType{assettypes.AssetTypeMaterial},
			},
			wantTotal: 1,
		},
		{
			name:      "type filter only",
			query:     AssetQuery{ProjectID: project.ID, Types: []assettypes.AssetType{assettypes.AssetTypeTexture}},
			wantTotal: 2,
		},
		{
			name:      "no matches",
			query:     AssetQuery{ProjectID: project.ID, Search: "zzzznothing"},
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := db.QueryAssets(ctx, tt.query)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if page.TotalItems != tt.wantTotal {
				t.Errorf("total = %d, want %d", page.TotalItems, tt.wantTotal)
			}
		})
	}

	t.Run("pagination", func(t *testing.T) {
		page, err := db.QueryAssets(ctx, AssetQuery{ProjectID: project.ID, Page: 1, PageSize: 3})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Items) != 3 || page.TotalPages != 2 {
			t.Errorf("page 1: items=%d totalPages=%d, want 3/2", len(page.Items), page.TotalPages)
		}

		firstPage := make(map[string]bool)
		for _, a := range page.Items {
			firstPage[a.ID] = true
		}

		page, err = db.QueryAssets(ctx, AssetQuery{ProjectID: project.ID, Page: 2, PageSize: 3})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Items) != 1 {
			t.Errorf("page 2: items=%d, want 1", len(page.Items))
		}
		for _, a := range page.Items {
			if firstPage[a.ID] {
				t.Errorf("asset %s appears on both pages", a.RelativePath)
			}
		}

		// Page below 1 is floored to the first page.
		page, err = db.QueryAssets(ctx, AssetQuery{ProjectID: project.ID, Page: 0, PageSize: 3})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Items) != 3 {
			t.Errorf("page 0: items=%d, want 3", len(page.Items))
		}
		for _, a := range page.Items {
			if !firstPage[a.ID] {
				t.Errorf("page 0 returned %s, not on the first page", a.RelativePath)
			}
		}
	})
}

// TestThumbEntryKeyedByMtime verifies that a content change (new mtime)
// hides the old cache entry.
func TestThumbEntryKeyedByMtime(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	project, err := db.GetOrCreateProject(ctx, "/projects/thumbs", "thumbs")
	if err != nil {
		t.Fatal(err)
	}
	asset := testAsset(project.ID, "t.png", assettypes.AssetTypeTexture)
	if err := db.UpsertBatch([]*Asset{asset}); err != nil {
		t.Fatal(err)
	}

	oldTime := time.Unix(1700000000, 0)
	if err := db.PutThumbEntry(ctx, &ThumbEntry{
		AssetID:      asset.ID,
		ModifiedTime: oldTime,
		Status:       ThumbReady,
		Path:         "old.jpg",
	}); err != nil {
		t.Fatal(err)
	}

	newTime := time.Unix(1700000600, 0)
	if _, err := db.GetThumbEntry(ctx, asset.ID, newTime); !errors.Is(err, ErrThumbNotFound) {
		t.Errorf("expected miss for new mtime, got %v", err)
	}

	if err := db.PutThumbEntry(ctx, &ThumbEntry{
		AssetID:      asset.ID,
		ModifiedTime: newTime,
		Status:       ThumbReady,
		Path:         "new.jpg",
	}); err != nil {
		t.Fatal(err)
	}

	// The stale entry for the old mtime must be gone.
	if _, err := db.GetThumbEntry(ctx, asset.ID, oldTime); !errors.Is(err, ErrThumbNotFound) {
		t.Errorf("stale entry still served: %v", err)
	}

	entry, err := db.GetThumbEntry(ctx, asset.ID, newTime)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Path != "new.jpg" {
		t.Errorf("path = %q, want new.jpg", entry.Path)
	}
}

// TestThumbStatusPermanence documents which outcomes are retried.
func TestThumbStatusPermanence(t *testing.T) {
	t.Parallel()

	permanent := []ThumbStatus{ThumbReady, ThumbTooLarge, ThumbUnsupported}
	for _, s := range permanent {
		if !s.IsPermanent() {
			t.Errorf("%q should be permanent", s)
		}
	}
	if ThumbFailed.IsPermanent() {
		t.Error("failed outcomes must be retryable")
	}
}
