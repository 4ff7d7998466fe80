package scanner

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"asset-atlas/internal/assettypes"
	"asset-atlas/internal/database"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/workers"
)

const (
	// Delay between batches to allow other operations
	batchDelay = 10 * time.Millisecond

	// How often the counting pass reports progress
	countReportInterval = 100

	// How much of a sidecar file to read when extracting the external id
	sidecarReadLimit = 4096
)

// defaultIgnoreDirs are path segments never descended into. They cover
// engine-generated and build output directories that dwarf the asset tree.
var defaultIgnoreDirs = map[string]bool{
	"Library":      true,
	"Temp":         true,
	"obj":          true,
	"Logs":         true,
	"UserSettings": true,
	".git":         true,
	".vs":          true,
	"Builds":       true,
	"Build":        true,
}

var externalIDPattern = regexp.MustCompile(`guid:\s*([a-f0-9]{32})`)

// Config configures the scanner.
type Config struct {
	// NumWorkers is the number of parallel subtree walkers (0 = auto)
	NumWorkers int
	// BatchSize is the number of records per emitted batch
	BatchSize int
	// ChannelBuffer is the size of the walk result channel
	ChannelBuffer int
	// IgnoreDirs are extra directory names to skip
	IgnoreDirs []string
}

// DefaultConfig returns scanner defaults sized for I/O-bound walking.
func DefaultConfig() Config {
	return Config{
		NumWorkers:    workers.ForIO(8),
		BatchSize:     500,
		ChannelBuffer: 1000,
	}
}

// Progress is a snapshot of walk progress, delivered to the report callback.
type Progress struct {
	Scanned     int64  `json:"scanned"`
	Skipped     int64  `json:"skipped"`
	Changed     int64  `json:"changed"`
	Total       int64  `json:"total,omitempty"`
	CurrentPath string `json:"currentPath,omitempty"`
}

// Stats summarizes a completed (or cancelled) scan.
type Stats struct {
	Scanned  int64         `json:"scanned"`
	Skipped  int64         `json:"skipped"`
	Changed  int64         `json:"changed"`
	Deleted  int64         `json:"deleted"`
	Errors   int64         `json:"errors"`
	Duration time.Duration `json:"-"`
}

// Scanner walks a project tree, diffs it against the stored snapshot, and
// emits new or changed assets in batches.
type Scanner struct {
	db     *database.Database
	config Config
	ignore map[string]bool
}

// New creates a Scanner.
func New(db *database.Database, config Config) *Scanner {
	if config.NumWorkers < 1 {
		config.NumWorkers = workers.ForIO(8)
	}
	if config.BatchSize < 1 {
		config.BatchSize = 500
	}
	if config.ChannelBuffer < 1 {
		config.ChannelBuffer = 1000
	}

	ignore := make(map[string]bool, len(defaultIgnoreDirs)+len(config.IgnoreDirs))
	for name := range defaultIgnoreDirs {
		ignore[name] = true
	}
	for _, name := range config.IgnoreDirs {
		ignore[name] = true
	}

	return &Scanner{
		db:     db,
		config: config,
		ignore: ignore,
	}
}

// shouldSkipDir reports whether a directory should not be descended into.
func (s *Scanner) shouldSkipDir(name string) bool {
	return s.ignore[name] || strings.HasPrefix(name, ".")
}

// classifiable reports whether a file participates in the index at all.
// Sidecar .meta files and unrecognized extensions are excluded.
func classifiable(name string) (assettypes.AssetType, string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".meta" {
		return "", "", false
	}
	t := assettypes.Classify(ext)
	if t == assettypes.AssetTypeUnknown {
		return "", "", false
	}
	return t, ext, true
}

// Count walks the tree and counts classifiable files, reporting progress
// every 100 files. The result gives later phases a denominator for
// percentages.
func (s *Scanner) Count(ctx context.Context, root string, report func(count int64)) (int64, error) {
	var count int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			logging.Warn("Error accessing path %s: %v", path, err)
			return nil // Continue walking
		}

		if d.IsDir() {
			if path != root && s.shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if _, _, ok := classifiable(d.Name()); !ok {
			return nil
		}

		count++
		if report != nil && count%countReportInterval == 0 {
			report(count)
		}
		return nil
	})

	if err != nil {
		return count, err
	}
	if report != nil {
		report(count)
	}
	return count, nil
}

// readSidecarID extracts the external id from the sidecar file next to an
// asset (<path>.meta). Missing or malformed sidecars yield an empty id.
func readSidecarID(assetPath string) string {
	f, err := os.Open(assetPath + ".meta")
	if err != nil {
		return ""
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, sidecarReadLimit))
	if err != nil {
		return ""
	}

	if m := externalIDPattern.FindSubmatch(buf); m != nil {
		return string(m[1])
	}
	return ""
}
