package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/metrics"
)

// EmitFunc receives a full or final batch of new/changed assets. Returning
// an error aborts the scan; batches already handed off stay committed.
type EmitFunc func(batch []*database.Asset) error

// walkResult is one file's outcome from a subtree walker.
type walkResult struct {
	asset   *database.Asset // nil when the file was skipped as unchanged
	relPath string
	err     error
}

// Scan walks the project tree in parallel, diffs each classifiable file
// against the stored snapshot, and emits new or changed assets in batches.
// Unchanged files (same size and mtime) are counted as skipped and never
// re-emitted. After a complete walk, assets no longer on disk are deleted.
// Cancellation is honored at directory, file, and batch boundaries.
func (s *Scanner) Scan(ctx context.Context, project *database.Project, total int64, emit EmitFunc, report func(Progress)) (*Stats, error) {
	startTime := time.Now()
	logging.Info("Starting scan of %s with %d workers", project.RootPath, s.config.NumWorkers)

	snapshot, err := s.db.Snapshot(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	logging.Debug("Loaded snapshot of %d indexed assets", len(snapshot))

	results := make(chan walkResult, s.config.ChannelBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.NumWorkers)

	// Producer: hand each top-level subtree to a worker. Files directly
	// under the root are walked by a dedicated shallow pass.
	go func() {
		defer close(results)

		entries, readErr := os.ReadDir(project.RootPath)
		if readErr != nil {
			select {
			case results <- walkResult{err: readErr}:
			case <-gctx.Done():
			}
			return
		}

		g.Go(func() error {
			return s.walkRootFiles(gctx, project, entries, snapshot, results)
		})

		for _, entry := range entries {
			if !entry.IsDir() || s.shouldSkipDir(entry.Name()) {
				continue
			}
			dir := filepath.Join(project.RootPath, entry.Name())
			g.Go(func() error {
				return s.walkSubtree(gctx, project, dir, snapshot, results)
			})
		}

		if waitErr := g.Wait(); waitErr != nil && gctx.Err() == nil {
			logging.Warn("Subtree walk error: %v", waitErr)
		}
	}()

	sw, err := s.collect(ctx, results, total, emit, report)
	stats := &sw.Stats
	stats.Duration = time.Since(startTime)

	if err != nil {
		logging.Info("Scan aborted after %v: %d scanned, %d skipped, %d changed",
			stats.Duration, stats.Scanned, stats.Skipped, stats.Changed)
		return stats, err
	}

	// The walk completed, so anything not seen no longer exists on disk.
	deleted, err := s.db.DeleteMissing(project.ID, sw.seen)
	if err != nil {
		return stats, err
	}
	stats.Deleted = deleted
	if deleted > 0 {
		logging.Info("Removed %d missing assets from index", deleted)
	}

	if err := s.db.UpdateProjectScanTime(ctx, project.ID, stats.Scanned); err != nil {
		logging.Warn("Failed to update project scan time: %v", err)
	}

	logging.Info("Scan complete: %d scanned, %d skipped, %d changed, %d deleted in %v (errors: %d)",
		stats.Scanned, stats.Skipped, stats.Changed, stats.Deleted, stats.Duration, stats.Errors)

	return stats, nil
}

// statsWithSeen carries the seen-path set alongside the public counters.
type statsWithSeen struct {
	Stats
	seen map[string]struct{}
}

// collect drains walk results, batching changed assets for emission.
func (s *Scanner) collect(ctx context.Context, results <-chan walkResult, total int64, emit EmitFunc, report func(Progress)) (*statsWithSeen, error) {
	stats := &statsWithSeen{seen: make(map[string]struct{})}
	batch := make([]*database.Asset, 0, s.config.BatchSize)
	var lastPath string

	progress := func() Progress {
		return Progress{
			Scanned:     stats.Scanned,
			Skipped:     stats.Skipped,
			Changed:     stats.Changed,
			Total:       total,
			CurrentPath: lastPath,
		}
	}

	// A failed commit is fatal only for its own batch: the batch is dropped
	// and the walk continues. The files stay in the seen set, so they are
	// not deleted afterwards and a later scan picks them up again.
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := emit(batch); err != nil {
			stats.Errors += int64(len(batch))
			metrics.ScanFilesProcessed.WithLabelValues("failed").Add(float64(len(batch)))
			metrics.ScanErrors.Inc()
			logging.Warn("Dropping batch of %d assets after failed commit: %v", len(batch), err)
		} else {
			metrics.ScanFilesProcessed.WithLabelValues("indexed").Add(float64(len(batch)))
		}
		batch = batch[:0]
		if report != nil {
			report(progress())
		}
		time.Sleep(batchDelay)
	}

	for result := range results {
		if result.err != nil {
			stats.Errors++
			metrics.ScanErrors.Inc()
			logging.Debug("Walk error: %v", result.err)
			continue
		}

		stats.Scanned++
		stats.seen[result.relPath] = struct{}{}
		lastPath = result.relPath

		if result.asset == nil {
			stats.Skipped++
			metrics.ScanFilesProcessed.WithLabelValues("skipped").Inc()
			if report != nil && stats.Scanned%countReportInterval == 0 {
				report(progress())
			}
			continue
		}

		stats.Changed++
		batch = append(batch, result.asset)

		if len(batch) >= s.config.BatchSize {
			// Batch boundary is a cancellation point; committed batches stand.
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			flush()
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	flush()
	if report != nil {
		report(progress())
	}
	return stats, nil
}

// walkRootFiles indexes classifiable files sitting directly in the root.
func (s *Scanner) walkRootFiles(ctx context.Context, project *database.Project, entries []os.DirEntry, snapshot map[string]database.FileState, results chan<- walkResult) error {
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(project.RootPath, entry.Name())
		if err := s.processFile(ctx, project, path, entry, snapshot, results); err != nil {
			return err
		}
	}
	return nil
}

// walkSubtree walks one top-level directory sequentially.
func (s *Scanner) walkSubtree(ctx context.Context, project *database.Project, dir string, snapshot map[string]database.FileState, results chan<- walkResult) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			logging.Warn("Error accessing path %s: %v", path, err)
			select {
			case results <- walkResult{err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil // Continue walking
		}

		if d.IsDir() {
			if path != dir && s.shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		return s.processFile(ctx, project, path, d, snapshot, results)
	})
}

// processFile classifies and diffs one file, sending its outcome to the
// collector.
func (s *Scanner) processFile(ctx context.Context, project *database.Project, path string, d fs.DirEntry, snapshot map[string]database.FileState, results chan<- walkResult) error {
	assetType, ext, ok := classifiable(d.Name())
	if !ok {
		return nil
	}

	relPath, err := filepath.Rel(project.RootPath, path)
	if err != nil {
		return nil
	}
	relPath = filepath.ToSlash(relPath)

	info, err := d.Info()
	if err != nil {
		logging.Warn("Error getting info for %s: %v", path, err)
		select {
		case results <- walkResult{err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	prior, existed := snapshot[relPath]
	if existed && prior.SizeBytes == info.Size() && prior.ModifiedTime == info.ModTime().Unix() {
		select {
		case results <- walkResult{relPath: relPath}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	// Changed files keep their asset id so edges and thumbnails stay
	// attached; new files get a fresh one.
	id := prior.AssetID
	if !existed {
		id = uuid.NewString()
	}

	asset := &database.Asset{
		ID:           id,
		ProjectID:    project.ID,
		AbsolutePath: path,
		RelativePath: relPath,
		FileName:     d.Name(),
		Extension:    strings.TrimPrefix(ext, "."),
		Type:         assetType,
		SizeBytes:    info.Size(),
		ModifiedTime: info.ModTime(),
		ExternalID:   readSidecarID(path),
	}

	select {
	case results <- walkResult{asset: asset, relPath: relPath}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
