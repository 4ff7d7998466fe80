package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"asset-atlas/internal/logging"
	"asset-atlas/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database manages all persistence for the asset index.
type Database struct {
	db      *sql.DB
	dbPath  string
	mu      sync.RWMutex
	stats   IndexStats
	statsMu sync.RWMutex
	txStart time.Time // Track transaction start time for metrics
}

// New creates a new Database instance.
// IMPORTANT: dbPath should be the full path to the database FILE (e.g., "/data/atlas.db"),
// and the parent directory must already exist and be writable.
// Use startup.LoadConfig() to ensure proper directory validation before calling this.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	// Diagnose potential permission issues
	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// Use WAL mode and other optimizations
	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Allow multiple readers - increased for better concurrency under load
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- Projects table
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		root_path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		last_scan_time INTEGER,
		file_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Main assets table
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		absolute_path TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		extension TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		modified_time INTEGER NOT NULL,
		external_id TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
		UNIQUE(project_id, relative_path)
	);

	CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project_id);
	CREATE INDEX IF NOT EXISTS idx_assets_type ON assets(asset_type);
	CREATE INDEX IF NOT EXISTS idx_assets_external_id ON assets(external_id);
	CREATE INDEX IF NOT EXISTS idx_assets_relative_path ON assets(relative_path);
	CREATE INDEX IF NOT EXISTS idx_assets_project_type ON assets(project_id, asset_type);
	CREATE INDEX IF NOT EXISTS idx_assets_updated_at ON assets(project_id, updated_at);

	-- Full-text search table
	CREATE VIRTUAL TABLE IF NOT EXISTS assets_fts USING fts5(
		file_name,
		relative_path,
		content='assets',
		content_rowid='rowid',
		tokenize='trigram'
	);

	CREATE TRIGGER IF NOT EXISTS assets_ai AFTER INSERT ON assets BEGIN
		INSERT INTO assets_fts(rowid, file_name, relative_path)
		VALUES (new.rowid, new.file_name, new.relative_path);
	END;

	CREATE TRIGGER IF NOT EXISTS assets_ad AFTER DELETE ON assets BEGIN
		INSERT INTO assets_fts(assets_fts, rowid, file_name, relative_path)
		VALUES ('delete', old.rowid, old.file_name, old.relative_path);
	END;

	CREATE TRIGGER IF NOT EXISTS assets_au AFTER UPDATE ON assets BEGIN
		INSERT INTO assets_fts(assets_fts, rowid, file_name, relative_path)
		VALUES ('delete', old.rowid, old.file_name, old.relative_path);
		INSERT INTO assets_fts(rowid, file_name, relative_path)
		VALUES (new.rowid, new.file_name, new.relative_path);
	END;

	-- Dependency edges between assets
	CREATE TABLE IF NOT EXISTS dependencies (
		id TEXT PRIMARY KEY,
		from_asset_id TEXT NOT NULL,
		to_asset_id TEXT,
		to_external_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		confidence TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (from_asset_id) REFERENCES assets(id) ON DELETE CASCADE,
		FOREIGN KEY (to_asset_id) REFERENCES assets(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deps_from ON dependencies(from_asset_id);
	CREATE INDEX IF NOT EXISTS idx_deps_to ON dependencies(to_asset_id);
	CREATE INDEX IF NOT EXISTS idx_deps_external_id ON dependencies(to_external_id);

	-- Persistent thumbnail cache index
	CREATE TABLE IF NOT EXISTS thumb_cache (
		asset_id TEXT NOT NULL,
		modified_time INTEGER NOT NULL,
		status TEXT NOT NULL,
		path TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (asset_id, modified_time),
		FOREIGN KEY (asset_id) REFERENCES assets(id) ON DELETE CASCADE
	);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// BeginBatch starts a transaction for batch operations.
// The caller is responsible for calling EndBatch when done.
// Note: Acquires write lock only during transaction begin, not for entire duration.
func (d *Database) BeginBatch() (*sql.Tx, error) {
	// Use shorter-lived lock - only protect transaction creation
	d.mu.Lock()
	txStart := time.Now()

	// Use background context - transaction lifetime is managed by EndBatch, not a timeout.
	// The timeout context pattern doesn't work here because defer cancel() would
	// cancel the transaction immediately when this function returns.
	tx, err := d.db.BeginTx(context.Background(), nil)
	d.mu.Unlock() // Release lock immediately after transaction starts

	if err != nil {
		return nil, err
	}

	d.txStart = txStart

	return tx, nil
}

// EndBatch commits or rolls back a transaction.
func (d *Database) EndBatch(tx *sql.Tx, err error) error {
	// Record transaction duration (txStart set by BeginBatch)
	duration := time.Since(d.txStart).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		rbErr := tx.Rollback()
		if rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// UpdateStats updates the cached statistics.
func (d *Database) UpdateStats(stats IndexStats) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats = stats
}

// GetStats returns the current index statistics.
func (d *Database) GetStats() IndexStats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// RebuildFTS rebuilds the full-text search index.
func (d *Database) RebuildFTS() error {
	start := time.Now()
	var err error
	defer func() { recordQuery("rebuild_fts", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "INSERT INTO assets_fts(assets_fts) VALUES('rebuild')")
	return err
}

// Vacuum optimizes the database.
func (d *Database) Vacuum() error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	// Check if directory is writable by testing
	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile) // Explicitly ignore cleanup error
	logging.Debug("Database directory is writable")

	// Check main database file
	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	// Check WAL file
	walPath := dbPath + "-wal"
	if walInfo, err := os.Stat(walPath); err == nil {
		logging.Debug("WAL file exists: %s (mode: %v, size: %d bytes)", walPath, walInfo.Mode(), walInfo.Size())
		if walInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("WAL file is read-only! Mode: %v - this will cause write failures", walInfo.Mode())
			if chmodErr := os.Chmod(walPath, 0o600); chmodErr != nil {
				logging.Error("Failed to fix WAL file permissions: %v", chmodErr)
			} else {
				logging.Info("Fixed WAL file permissions")
			}
		}
	}

	// Check SHM file
	shmPath := dbPath + "-shm"
	if shmInfo, err := os.Stat(shmPath); err == nil {
		logging.Debug("SHM file exists: %s (mode: %v, size: %d bytes)", shmPath, shmInfo.Mode(), shmInfo.Size())
		if shmInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("SHM file is read-only! Mode: %v - this will cause write failures", shmInfo.Mode())
			if chmodErr := os.Chmod(shmPath, 0o600); chmodErr != nil {
				logging.Error("Failed to fix SHM file permissions: %v", chmodErr)
			} else {
				logging.Info("Fixed SHM file permissions")
			}
		}
	}

	return nil
}
