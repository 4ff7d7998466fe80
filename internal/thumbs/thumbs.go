package thumbs

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // MD5 used for cache file naming, not security
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/metrics"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 80

	// Bound for the in-process payload cache
	defaultMemCacheBytes = 64 * 1024 * 1024
)

// Sentinel errors surfaced to callers. Both are cached permanently for the
// source's current modification time.
var (
	// ErrTooLarge means the source exceeds the decode size guard.
	ErrTooLarge = errors.New("source too large to decode")
	// ErrUnsupported means the source format cannot be decoded.
	ErrUnsupported = errors.New("unsupported source format")
	// ErrDisabled means the thumbnail store directory is unavailable.
	ErrDisabled = errors.New("thumbnails disabled")
)

// DecodeFailure is a decode attempt that ended abnormally, including a
// recovered decoder crash.
type DecodeFailure struct {
	Path   string
	Reason string
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("decode failure for %s: %s", e.Path, e.Reason)
}

// Generator produces and caches square thumbnails for texture and material
// assets. Lookup order: memory tier, persistent store, generate.
type Generator struct {
	db             *database.Database
	dir            string
	size           int
	maxDecodeBytes int64
	enabled        bool

	mem *memCache
	mu  sync.Mutex
}

// NewGenerator creates a thumbnail Generator backed by dir.
func NewGenerator(db *database.Database, dir string, size int, maxDecodeBytes int64, enabled bool) *Generator {
	if enabled {
		logging.Debug("Thumbnail generator: enabled, store dir: %s", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Warn("Thumbnail generator: failed to create store dir: %v", err)
			enabled = false
		}
	} else {
		logging.Debug("Thumbnail generator: disabled")
	}

	return &Generator{
		db:             db,
		dir:            dir,
		size:           size,
		maxDecodeBytes: maxDecodeBytes,
		enabled:        enabled,
		mem:            newMemCache(defaultMemCacheBytes),
	}
}

// IsEnabled reports whether the persistent store is available.
func (g *Generator) IsEnabled() bool {
	return g.enabled
}

// cacheKey identifies a payload by asset identity and content version.
// An mtime change produces a new key, so stale entries become unreachable.
func cacheKey(assetID string, modifiedTime time.Time) string {
	return fmt.Sprintf("%s:%d", assetID, modifiedTime.Unix())
}

// storeName is the payload file name inside the store directory.
func (g *Generator) storeName(asset *database.Asset) string {
	return fmt.Sprintf("%x_%d.jpg", md5.Sum([]byte(asset.RelativePath)), asset.ModifiedTime.Unix()) //nolint:gosec // MD5 used for cache file naming, not security
}

// GetThumbnail returns the encoded thumbnail for an asset, generating and
// caching it if needed. Permanent sentinels come back as ErrTooLarge or
// ErrUnsupported without another decode attempt.
func (g *Generator) GetThumbnail(ctx context.Context, asset *database.Asset) ([]byte, error) {
	if !g.enabled {
		return nil, ErrDisabled
	}

	key := cacheKey(asset.ID, asset.ModifiedTime)

	if data, ok := g.mem.get(key); ok {
		metrics.ThumbnailCacheHits.WithLabelValues("memory").Inc()
		return data, nil
	}

	entry, err := g.db.GetThumbEntry(ctx, asset.ID, asset.ModifiedTime)
	if err == nil {
		switch entry.Status {
		case database.ThumbTooLarge:
			metrics.ThumbnailCacheHits.WithLabelValues("store").Inc()
			return nil, ErrTooLarge
		case database.ThumbUnsupported:
			metrics.ThumbnailCacheHits.WithLabelValues("store").Inc()
			return nil, ErrUnsupported
		case database.ThumbReady:
			if data, readErr := os.ReadFile(filepath.Join(g.dir, entry.Path)); readErr == nil {
				metrics.ThumbnailCacheHits.WithLabelValues("store").Inc()
				g.mem.put(key, data)
				return data, nil
			}
			// Payload missing; regenerate below.
		case database.ThumbFailed:
			// Transient failure, retry.
		}
	} else if !errors.Is(err, database.ErrThumbNotFound) {
		return nil, err
	}

	metrics.ThumbnailCacheMisses.Inc()
	return g.generate(ctx, asset)
}

// generate decodes, resizes, and stores a thumbnail, recording the outcome
// in the cache index.
func (g *Generator) generate(ctx context.Context, asset *database.Asset) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := cacheKey(asset.ID, asset.ModifiedTime)

	// Another caller may have generated while we waited on the lock.
	if data, ok := g.mem.get(key); ok {
		return data, nil
	}

	start := time.Now()
	thumbType := string(asset.Type)

	// Size guard before any decode attempt.
	if asset.Type != assettypes.AssetTypeMaterial && asset.SizeBytes > g.maxDecodeBytes {
		logging.Debug("Source too large for %s: %d bytes", asset.RelativePath, asset.SizeBytes)
		g.recordSentinel(ctx, asset, database.ThumbTooLarge)
		metrics.ThumbnailGenerationsTotal.WithLabelValues(thumbType, "too_large").Inc()
		return nil, ErrTooLarge
	}

	var img image.Image
	var err error

	switch asset.Type {
	case assettypes.AssetTypeTexture:
		img, err = g.decodeTexture(asset.AbsolutePath)
	case assettypes.AssetTypeMaterial:
		img, err = g.materialImage(ctx, asset)
	default:
		g.recordSentinel(ctx, asset, database.ThumbUnsupported)
		metrics.ThumbnailGenerationsTotal.WithLabelValues(thumbType, "unsupported").Inc()
		return nil, ErrUnsupported
	}

	if err != nil {
		logging.Debug("Thumbnail decode failed for %s: %v", asset.RelativePath, err)
		g.recordSentinel(ctx, asset, database.ThumbUnsupported)
		metrics.ThumbnailGenerationsTotal.WithLabelValues(thumbType, "unsupported").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	thumb := imaging.Fit(img, g.size, g.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		g.recordSentinel(ctx, asset, database.ThumbFailed)
		metrics.ThumbnailGenerationsTotal.WithLabelValues(thumbType, "failed").Inc()
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	name := g.storeName(asset)
	if err := g.writeAtomic(name, buf.Bytes()); err != nil {
		g.recordSentinel(ctx, asset, database.ThumbFailed)
		metrics.ThumbnailGenerationsTotal.WithLabelValues(thumbType, "failed").Inc()
		return nil, fmt.Errorf("failed to store thumbnail: %w", err)
	}

	entry := &database.ThumbEntry{
		AssetID:      asset.ID,
		ModifiedTime: asset.ModifiedTime,
		Status:       database.ThumbReady,
		Path:         name,
		SizeBytes:    int64(buf.Len()),
	}
	if err := g.db.PutThumbEntry(ctx, entry); err != nil {
		logging.Warn("Failed to record thumbnail entry for %s: %v", asset.RelativePath, err)
	}

	g.mem.put(key, buf.Bytes())

	metrics.ThumbnailGenerationsTotal.WithLabelValues(thumbType, "success").Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues(thumbType).Observe(time.Since(start).Seconds())

	return buf.Bytes(), nil
}

// recordSentinel stores a non-ready outcome for the (asset, mtime) pair.
func (g *Generator) recordSentinel(ctx context.Context, asset *database.Asset, status database.ThumbStatus) {
	entry := &database.ThumbEntry{
		AssetID:      asset.ID,
		ModifiedTime: asset.ModifiedTime,
		Status:       status,
	}
	if err := g.db.PutThumbEntry(ctx, entry); err != nil {
		logging.Warn("Failed to record %s sentinel for %s: %v", status, asset.RelativePath, err)
	}
}

// writeAtomic writes payload bytes via temp file + rename so a partial
// write never becomes visible.
func (g *Generator) writeAtomic(name string, data []byte) error {
	path := filepath.Join(g.dir, name)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}

// decodeTexture loads a raster source, preferring the pure-Go decoders and
// falling back to the guarded libvips path for formats they cannot read.
func (g *Generator) decodeTexture(path string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if !assettypes.IsDecodable(ext) {
		return nil, &DecodeFailure{Path: path, Reason: "no decoder for " + ext}
	}

	// PSD and friends go straight to libvips behind the fault boundary.
	if ext == ".psd" {
		return safeDecode(path, g.size, g.size)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	logging.Debug("imaging.Open failed for %s: %v, trying vips fallback", path, err)

	img, vipsErr := safeDecode(path, g.size, g.size)
	if vipsErr != nil {
		return nil, fmt.Errorf("all decode methods failed for %s: %w", path, err)
	}
	return img, nil
}
