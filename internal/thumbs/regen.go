package thumbs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"asset-atlas/internal/logging"
	"asset-atlas/internal/metrics"
)

// RegenerateAll drops every cached thumbnail for a project and rebuilds the
// cache over all texture and material assets, textures first. Permanent
// sentinels recorded during the rebuild count as processed, not generated.
// Cancellation is honored between items; completed payloads stand.
func (g *Generator) RegenerateAll(ctx context.Context, projectID string, report func(done, total int)) (int, error) {
	if !g.enabled {
		return 0, ErrDisabled
	}

	metrics.ThumbnailGeneratorRunning.Set(1)
	defer metrics.ThumbnailGeneratorRunning.Set(0)

	start := time.Now()

	stale, err := g.db.ClearThumbEntries(ctx, projectID)
	if err != nil {
		return 0, err
	}
	for _, name := range stale {
		if name == "" {
			continue
		}
		if rmErr := os.Remove(filepath.Join(g.dir, name)); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.Debug("Failed to remove stale thumbnail %s: %v", name, rmErr)
		}
	}
	g.mem.clear()

	candidates, err := g.db.GetThumbnailCandidates(ctx, projectID)
	if err != nil {
		return 0, err
	}

	total := len(candidates)
	logging.Info("Regenerating thumbnails: %d candidates", total)

	generated := 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			logging.Info("Thumbnail regeneration cancelled after %d/%d", i, total)
			return generated, err
		}

		_, genErr := g.GetThumbnail(ctx, &candidates[i])
		switch {
		case genErr == nil:
			generated++
		case errors.Is(genErr, ErrTooLarge), errors.Is(genErr, ErrUnsupported):
			// Sentinel recorded; nothing more to do for this asset.
		default:
			logging.Warn("Thumbnail generation failed for %s: %v", candidates[i].RelativePath, genErr)
		}

		if report != nil {
			report(i+1, total)
		}
	}

	logging.Info("Thumbnail regeneration complete: %d/%d generated in %v", generated, total, time.Since(start).Round(time.Millisecond))
	return generated, nil
}
