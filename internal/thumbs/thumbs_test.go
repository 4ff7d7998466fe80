package thumbs

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"

	"github.com/google/uuid"
)

func newTestDB(t *testing.T) (*database.Database, *database.Project) {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "atlas.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	project, err := db.GetOrCreateProject(context.Background(), t.TempDir(), "thumbs")
	if err != nil {
		t.Fatal(err)
	}
	return db, project
}

// writePNG writes a small solid-color PNG and returns its size on disk.
func writePNG(t *testing.T, path string, w, h int) int64 {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return int64(buf.Len())
}

// indexFile records a file as an asset row.
func indexFile(t *testing.T, db *database.Database, projectID, path string, at assettypes.AssetType, size int64, mtime time.Time, externalID string) *database.Asset {
	t.Helper()

	asset := &database.Asset{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		AbsolutePath: path,
		RelativePath: filepath.Base(path),
		FileName:     filepath.Base(path),
		Extension:    filepath.Ext(path),
		Type:         at,
		SizeBytes:    size,
		ModifiedTime: mtime,
		ExternalID:   externalID,
	}
	if err := db.UpsertBatch([]*database.Asset{asset}); err != nil {
		t.Fatal(err)
	}
	return asset
}

func newTestGenerator(t *testing.T, db *database.Database) *Generator {
	t.Helper()
	return NewGenerator(db, t.TempDir(), 128, 1024*1024, true)
}

func isJPEG(data []byte) bool {
	return len(data) > 2 && data[0] == 0xff && data[1] == 0xd8
}

// TestGetThumbnailGeneratesAndCaches exercises the full generate path and
// both cache tiers.
func TestGetThumbnailGeneratesAndCaches(t *testing.T) {
	t.Parallel()
	db, project := newTestDB(t)
	ctx := context.Background()
	gen := newTestGenerator(t, db)

	src := filepath.Join(t.TempDir(), "tex.png")
	size := writePNG(t, src, 256, 256)
	asset := indexFile(t, db, project.ID, src, assettypes.AssetTypeTexture, size, time.Unix(1700000000, 0), "")

	data, err := gen.GetThumbnail(ctx, asset)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !isJPEG(data) {
		t.Fatal("thumbnail is not a JPEG")
	}

	// The persistent entry must be recorded as ready.
	entry, err := db.GetThumbEntry(ctx, asset.ID, asset.ModifiedTime)
	if err != nil {
		t.Fatalf("no cache entry recorded: %v", err)
	}
	if entry.Status != database.ThumbReady {
		t.Errorf("status = %q, want ready", entry.Status)
	}

	// Second lookup hits a cache tier and returns the same payload.
	again, err := gen.GetThumbnail(ctx, asset)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("cached payload differs from generated payload")
	}

	// With the memory tier dropped, the store payload still serves.
	gen.mem.clear()
	fromStore, err := gen.GetThumbnail(ctx, asset)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, fromStore) {
		t.Error("store payload differs from generated payload")
	}
}

// TestTooLargeSentinel verifies the size guard short-circuits decode and
// the sentinel survives restarts via the store.
func TestTooLargeSentinel(t *testing.T) {
	t.Parallel()
	db, project := newTestDB(t)
	ctx := context.Background()
	gen := newTestGenerator(t, db)

	src := filepath.Join(t.TempDir(), "huge.png")
	writePNG(t, src, 16, 16)
	asset := indexFile(t, db, project.ID, src, assettypes.AssetTypeTexture,
		gen.maxDecodeBytes+1, time.Unix(1700000000, 0), "")

	if _, err := gen.GetThumbnail(ctx, asset); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	entry, err := db.GetThumbEntry(ctx, asset.ID, asset.ModifiedTime)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != database.ThumbTooLarge {
		t.Errorf("status = %q, want too_large", entry.Status)
	}
	if !entry.Status.IsPermanent() {
		t.Error("too_large must be permanent")
	}

	// Served from the sentinel row on repeat, still ErrTooLarge.
	if _, err := gen.GetThumbnail(ctx, asset); !errors.Is(err, ErrTooLarge) {
		t.Errorf("repeat lookup: expected ErrTooLarge, got %v", err)
	}
}

// TestUnsupportedSentinel verifies undecodable sources get a permanent
// unsupported sentinel.
func TestUnsupportedSentinel(t *testing.T) {
	t.Parallel()
	db, project := newTestDB(t)
	ctx := context.Background()
	gen := newTestGenerator(t, db)

	// A model can never have a raster thumbnail.
	src := filepath.Join(t.TempDir(), "rock.fbx")
	if err := os.WriteFile(src, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	asset := indexFile(t, db, project.ID, src, assettypes.AssetTypeModel, 12, time.Unix(1700000000, 0), "")

	if _, err := gen.GetThumbnail(ctx, asset); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	entry, err := db.GetThumbEntry(ctx, asset.ID, asset.ModifiedTime)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != database.ThumbUnsupported {
		t.Errorf("status = %q, want unsupported", entry.Status)
	}
}

// TestMtimeChangeInvalidates verifies a content change produces a new cache
// key and the old payload is never served.
func TestMtimeChangeInvalidates(t *testing.T) {
	t.Parallel()
	db, project := newTestDB(t)
	ctx := context.Background()
	gen := newTestGenerator(t, db)

	src := filepath.Join(t.TempDir(), "tex.png")
	size := writePNG(t, src, 64, 64)
	asset := indexFile(t, db, project.ID, src, assettypes.AssetTypeTexture, size, time.Unix(1700000000, 0), "")

	first, err := gen.GetThumbnail(ctx, asset)
	if err != nil {
		t.Fatal(err)
	}

	// New content, new mtime: same asset row but a different cache key.
	size = writePNG(t, src, 300, 100)
	asset.SizeBytes = size
	asset.ModifiedTime = time.Unix(1700000700, 0)
	if err := db.UpsertBatch([]*database.Asset{asset}); err != nil {
		t.Fatal(err)
	}

	second, err := gen.GetThumbnail(ctx, asset)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first, second) {
		t.Error("stale thumbnail served after content change")
	}

	// The old key no longer resolves.
	if _, err := db.GetThumbEntry(ctx, asset.ID, time.Unix(1700000000, 0)); !errors.Is(err, database.ErrThumbNotFound) {
		t.Errorf("old entry still present: %v", err)
	}
}

// TestDisabledGenerator verifies lookups fail fast without a store dir.
func TestDisabledGenerator(t *testing.T) {
	t.Parallel()
	db, project := newTestDB(t)

	gen := NewGenerator(db, "", 128, 1024, false)
	asset := indexFile(t, db, project.ID, "/nonexistent/a.png", assettypes.AssetTypeTexture, 1, time.Unix(1700000000, 0), "")

	if _, err := gen.GetThumbnail(context.Background(), asset); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

// TestMemCacheEviction verifies the byte-bounded LRU behavior.
func TestMemCacheEviction(t *testing.T) {
	t.Parallel()

	c := newMemCache(10)
	c.put("a", []byte("12345"))
	c.put("b", []byte("12345"))

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.get("a"); !ok {
		t.Fatal("a missing before eviction")
	}

	c.put("c", []byte("12345"))

	if _, ok := c.get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("a should have survived")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("c should be present")
	}
}

// TestCacheKey is keyed on identity and content version.
func TestCacheKey(t *testing.T) {
	t.Parallel()

	k1 := cacheKey("asset-1", time.Unix(100, 0))
	k2 := cacheKey("asset-1", time.Unix(200, 0))
	k3 := cacheKey("asset-2", time.Unix(100, 0))

	if k1 == k2 {
		t.Error("mtime change must change the key")
	}
	if k1 == k3 {
		t.Error("different assets must not share keys")
	}
}
